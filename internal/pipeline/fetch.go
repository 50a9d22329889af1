package pipeline

import (
	"context"
	"log/slog"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/observability"
)

// Fetcher downloads each server's traces into its staging tree.
type Fetcher struct {
	connector Connector
	layout    domain.Layout
	report    *domain.Report
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewFetcher creates the fetch stage.
func NewFetcher(c Connector, layout domain.Layout, report *domain.Report, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	return &Fetcher{
		connector: c,
		layout:    layout,
		report:    report,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run executes the requests one server at a time, in list order. A server
// that cannot be reached is logged, reported and skipped. Only context
// cancellation is returned as an error.
func (f *Fetcher) Run(ctx context.Context, requests []domain.Request) error {
	for _, rq := range requests {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.logger.Info("downloading data", "server", rq.Server)

		res := domain.ItemResult{Stage: domain.StageFetch, Server: rq.Server}
		searcher, err := f.connector.Connect(rq.Server)
		if err != nil {
			f.fail(res, err)
			continue
		}

		n, err := searcher.Search(ctx, rq, f.layout.StagingDir(rq.Server))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			f.fail(res, err)
			continue
		}

		res.Count = n
		f.report.Succeed(res)
		f.metrics.ServerFetches.WithLabelValues(rq.Server, "success").Inc()
		f.logger.Info("server done", "server", rq.Server, "traces", n)
	}
	return nil
}

func (f *Fetcher) fail(res domain.ItemResult, err error) {
	f.logger.Warn("server skipped", "server", res.Server, "error", err)
	f.metrics.ServerFetches.WithLabelValues(res.Server, "error").Inc()
	f.report.Fail(res, err)
}
