package fdsn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/observability"
)

// Pool resolves server names and keeps one Client per server for the length
// of a run, so rate limits and breakers are shared between the fetch and
// metadata stages.
type Pool struct {
	resolver *Resolver
	resolve  ResolveOptions
	opts     Options
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates a client pool.
func NewPool(resolver *Resolver, resolve ResolveOptions, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Pool {
	return &Pool{
		resolver: resolver,
		resolve:  resolve,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
		clients:  make(map[string]*Client),
	}
}

// Client returns the client for a server, resolving it on first use.
func (p *Pool) Client(server string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[server]; ok {
		return c, nil
	}
	ep, err := p.resolver.Resolve(server, p.resolve)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", server, err)
	}
	p.logger.Debug("resolved server", "server", server, "url", ep.BaseURL, "authenticated", ep.Authenticated())

	c := NewClient(ep, p.opts, p.metrics, p.logger)
	p.clients[server] = c
	return c, nil
}

// FetchResponse downloads the StationXML response of one channel from a server.
func (p *Pool) FetchResponse(ctx context.Context, server string, id domain.TraceID) ([]byte, error) {
	c, err := p.Client(server)
	if err != nil {
		return nil, err
	}
	return c.StationResponse(ctx, id)
}
