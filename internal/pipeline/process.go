package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/observability"
	"github.com/nascimentoandre/download-surftomo-data/internal/seismo"
)

// Processor removes the instrument response from every raw trace of an event
// and writes displacement traces into proc/.
type Processor struct {
	codec       TraceCodec
	remover     ResponseRemover
	conditioner SignalConditioner
	notifier    EventNotifier
	layout      domain.Layout
	preFilter   domain.PreFilter
	outputRate  float64
	report      *domain.Report
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewProcessor creates the processing stage.
func NewProcessor(deps Deps, cfg Config, report *domain.Report, logger *slog.Logger, metrics *observability.Metrics) *Processor {
	rate := cfg.OutputRate
	if rate <= 0 {
		rate = DefaultOutputRate
	}
	return &Processor{
		codec:       deps.Codec,
		remover:     deps.Remover,
		conditioner: deps.Conditioner,
		notifier:    deps.Notifier,
		layout:      cfg.Layout,
		preFilter:   cfg.PreFilter,
		outputRate:  rate,
		report:      report,
		logger:      logger,
		metrics:     metrics,
	}
}

// Run processes the given events in order. A failing trace is logged and
// reported; it never stops the event or the run.
func (p *Processor) Run(ctx context.Context, events []string) error {
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) processEvent(ctx context.Context, ev string) error {
	p.logger.Info("processing event", "event", ev)

	procDir := p.layout.ProcDir(ev)
	if err := os.MkdirAll(procDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", procDir, err)
	}

	entries, err := os.ReadDir(p.layout.RawDir(ev))
	if err != nil {
		return fmt.Errorf("list raw traces of %s: %w", ev, err)
	}

	summary := domain.EventSummary{EventID: ev, Dir: p.layout.EventDir(ev)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		summary.Raw++

		id, err := domain.ParseTraceFileName(e.Name())
		res := domain.ItemResult{Stage: domain.StageProcess, EventID: ev, Trace: id}
		if err == nil {
			err = p.processTrace(ev, e.Name(), id)
		}
		if err != nil {
			p.logger.Warn("processing failed",
				"event", ev,
				"network", id.Network,
				"station", id.Station,
				"channel", id.Channel,
				"error", err,
			)
			p.metrics.TracesProcessed.WithLabelValues("error").Inc()
			p.report.Fail(res, err)
			continue
		}

		summary.Processed++
		p.metrics.TracesProcessed.WithLabelValues("success").Inc()
		p.report.Succeed(res)
		p.logger.Info("processed trace", "network", id.Network, "station", id.Station, "channel", id.Channel)
	}

	if resp, err := os.ReadDir(p.layout.RespDir(ev)); err == nil {
		summary.Responses = len(resp)
	}
	summary.ProcessedAt = domain.Now()
	p.notify(ctx, summary)
	return nil
}

func (p *Processor) processTrace(ev, name string, id domain.TraceID) error {
	tr, err := p.codec.ReadTrace(filepath.Join(p.layout.RawDir(ev), name))
	if err != nil {
		return fmt.Errorf("read trace: %w", err)
	}

	respPath := filepath.Join(p.layout.RespDir(ev), id.ResponseFileName())
	if _, err := os.Stat(respPath); err != nil {
		return fmt.Errorf("response metadata: %w", err)
	}

	out, err := p.remover.RemoveResponse(tr, respPath, seismo.UnitDisplacement, p.preFilter)
	if err != nil {
		return err
	}
	if err := p.conditioner.Detrend(out, seismo.DetrendLinear); err != nil {
		return err
	}
	if err := p.conditioner.Resample(out, p.outputRate); err != nil {
		return err
	}
	return p.codec.WriteTrace(filepath.Join(p.layout.ProcDir(ev), name), out)
}

func (p *Processor) notify(ctx context.Context, summary domain.EventSummary) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.NotifyEventReady(ctx, summary); err != nil {
		p.logger.Warn("event notification failed", "event", summary.EventID, "error", err)
		return
	}
	p.metrics.EventsNotified.Inc()
}
