package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nascimentoandre/download-surftomo-data/internal/adapter/fdsn"
	"github.com/nascimentoandre/download-surftomo-data/internal/adapter/httpadapter"
	kafkaadapter "github.com/nascimentoandre/download-surftomo-data/internal/adapter/kafka"
	"github.com/nascimentoandre/download-surftomo-data/internal/config"
	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/observability"
	"github.com/nascimentoandre/download-surftomo-data/internal/pipeline"
	"github.com/nascimentoandre/download-surftomo-data/internal/seismo"
)

// runDownload validates the options, wires the pipeline and runs it once.
// Invalid options or configuration fail before any network access.
func runDownload(ctx context.Context, opts config.RunOptions, out io.Writer) error {
	run, err := opts.Validate()
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	pool := fdsn.NewPool(
		fdsn.NewResolver(),
		fdsn.ResolveOptions{Auth: run.Auth, CredentialsPath: run.CredentialsPath},
		fdsnOptions(cfg),
		metrics,
		logger,
	)

	deps := pipeline.Deps{
		Connector:   poolConnector(pool),
		Metadata:    fdsn.NewCachedMetadata(pool, cfg.MetadataCacheSize, metrics),
		Codec:       seismo.Toolkit{},
		Remover:     seismo.Toolkit{},
		Conditioner: seismo.Toolkit{},
	}
	if cfg.NotificationsEnabled() {
		notifier := kafkaadapter.NewNotifier(cfg, logger)
		defer func() {
			if err := notifier.Close(); err != nil {
				logger.Error("kafka notifier close error", "error", err)
			}
		}()
		deps.Notifier = notifier
		logger.Info("event notifications enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	p := pipeline.New(pipeline.Config{
		Layout:      run.Layout,
		MinDistance: run.MinDistance,
		PreFilter:   run.PreFilter,
		OutputRate:  pipeline.DefaultOutputRate,
	}, deps, logger, metrics)

	if cfg.MetricsAddr != "" {
		srv := httpadapter.NewServer(cfg.MetricsAddr, p, prometheus.DefaultGatherer, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	report, runErr := p.Run(ctx, run.Requests)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("pipeline error", "error", runErr)
	}
	writeOutputs(cfg, run, report, logger)

	fmt.Fprintf(out, "Time elapsed: %s\n", domain.FormatElapsed(report.Elapsed()))
	return runErr
}

// writeOutputs persists the run report and, when configured, the metrics
// textfile. Failures are logged; the downloaded data is already on disk.
func writeOutputs(cfg *config.Config, run *config.Run, report *domain.Report, logger *slog.Logger) {
	if err := report.WriteFile(run.ReportPath); err != nil {
		logger.Error("run report not written", "path", run.ReportPath, "error", err)
	} else {
		logger.Info("run report written", "path", run.ReportPath, "failures", len(report.Failures("")))
	}

	if cfg.MetricsTextfile != "" {
		if err := observability.WriteTextfile(cfg.MetricsTextfile, prometheus.DefaultGatherer); err != nil {
			logger.Error("metrics textfile not written", "path", cfg.MetricsTextfile, "error", err)
		}
	}
}

func fdsnOptions(cfg *config.Config) fdsn.Options {
	opts := fdsn.DefaultOptions()
	opts.Timeout = cfg.FDSNTimeout
	opts.RateLimit = cfg.FDSNRateLimit
	opts.BreakerThreshold = cfg.FDSNBreakerThreshold
	return opts
}

// poolConnector exposes the pool's clients as waveform searchers.
func poolConnector(pool *fdsn.Pool) pipeline.ConnectorFunc {
	return func(server string) (pipeline.WaveformSearcher, error) {
		c, err := pool.Client(server)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
