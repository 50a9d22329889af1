package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/observability"
	"github.com/nascimentoandre/download-surftomo-data/internal/seismo"
)

// WaveformSearcher runs an event-based request against one data center and
// writes the matching traces under dir. It returns the number of files written.
type WaveformSearcher interface {
	Search(ctx context.Context, req domain.Request, dir string) (int, error)
}

// Connector resolves a server name into a searcher.
type Connector interface {
	Connect(server string) (WaveformSearcher, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(server string) (WaveformSearcher, error)

func (f ConnectorFunc) Connect(server string) (WaveformSearcher, error) { return f(server) }

// MetadataSource downloads the instrument-response document of one channel.
type MetadataSource interface {
	FetchResponse(ctx context.Context, server string, id domain.TraceID) ([]byte, error)
}

// TraceCodec reads and writes waveform files.
type TraceCodec interface {
	ReadTrace(path string) (*seismo.Trace, error)
	WriteTrace(path string, tr *seismo.Trace) error
}

// ResponseRemover deconvolves the instrument response stored at respPath.
type ResponseRemover interface {
	RemoveResponse(tr *seismo.Trace, respPath string, output seismo.Unit, pf domain.PreFilter) (*seismo.Trace, error)
}

// SignalConditioner detrends and resamples traces in place.
type SignalConditioner interface {
	Detrend(tr *seismo.Trace, method seismo.DetrendMethod) error
	Resample(tr *seismo.Trace, rate float64) error
}

// EventNotifier announces an event whose processing has finished.
type EventNotifier interface {
	NotifyEventReady(ctx context.Context, summary domain.EventSummary) error
}

// Config holds the numeric parameters of a run.
type Config struct {
	Layout      domain.Layout
	MinDistance float64 // degrees
	PreFilter   domain.PreFilter
	OutputRate  float64 // Hz
}

// DefaultOutputRate is the sample rate of processed traces.
const DefaultOutputRate = 10.0

// Deps are the capabilities the stages call into. Notifier may be nil.
type Deps struct {
	Connector   Connector
	Metadata    MetadataSource
	Codec       TraceCodec
	Remover     ResponseRemover
	Conditioner SignalConditioner
	Notifier    EventNotifier
}

// Pipeline sequences the fetch, consolidate and process stages.
type Pipeline struct {
	fetcher      *Fetcher
	consolidator *Consolidator
	processor    *Processor
	report       *domain.Report
	logger       *slog.Logger
	metrics      *observability.Metrics
	started      atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(cfg Config, deps Deps, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if cfg.OutputRate <= 0 {
		cfg.OutputRate = DefaultOutputRate
	}
	report := domain.NewReport()
	return &Pipeline{
		fetcher:      NewFetcher(deps.Connector, cfg.Layout, report, logger, metrics),
		consolidator: NewConsolidator(deps.Codec, deps.Metadata, cfg.Layout, cfg.MinDistance, report, logger, metrics),
		processor:    NewProcessor(deps, cfg, report, logger, metrics),
		report:       report,
		logger:       logger,
		metrics:      metrics,
	}
}

// CheckReadiness returns nil once a run has started.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.started.Load() {
		return errors.New("pipeline has not started yet")
	}
	return nil
}

// Report is the structured outcome of the run so far.
func (p *Pipeline) Report() *domain.Report { return p.report }

// Run executes the three stages once, in order. Per-item failures are logged
// and recorded in the report; only cancellation or an unusable output folder
// stops the run early.
func (p *Pipeline) Run(ctx context.Context, requests []domain.Request) (*domain.Report, error) {
	p.started.Store(true)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)
	defer p.report.Finish()

	if err := p.fetcher.layout.EnsureRoot(); err != nil {
		return p.report, err
	}

	servers := make([]string, 0, len(requests))
	for _, rq := range requests {
		servers = append(servers, rq.Server)
	}

	p.logger.Info("pipeline started", "servers", servers, "folder", p.fetcher.layout.Root)

	if err := p.stage(ctx, domain.StageFetch, func() error {
		return p.fetcher.Run(ctx, requests)
	}); err != nil {
		return p.report, err
	}

	var events []string
	if err := p.stage(ctx, domain.StageConsolidate, func() error {
		res, err := p.consolidator.Run(ctx, servers)
		events = res.Events
		return err
	}); err != nil {
		return p.report, err
	}
	p.logger.Info("consolidation produced events", "events", len(events))

	if err := p.stage(ctx, domain.StageProcess, func() error {
		ids, err := p.fetcher.layout.EventIDs()
		if err != nil {
			return err
		}
		return p.processor.Run(ctx, ids)
	}); err != nil {
		return p.report, err
	}

	p.logger.Info("pipeline finished",
		"failures", len(p.report.Failures("")),
		"elapsed", p.report.Elapsed().String(),
	)
	return p.report, nil
}

func (p *Pipeline) stage(ctx context.Context, stage domain.Stage, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := domain.Now()
	p.logger.Info("stage started", "stage", stage)
	err := fn()
	elapsed := domain.Now().Sub(start)
	p.metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	if err != nil {
		p.logger.Error("stage aborted", "stage", stage, "error", err)
		return err
	}
	p.logger.Info("stage finished", "stage", stage, "elapsed", elapsed.String())
	return nil
}
