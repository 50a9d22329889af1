package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/observability"
)

// Rejection reasons, used as metric labels.
const (
	rejectDuplicate  = "duplicate"
	rejectChannel    = "channel"
	rejectDistance   = "distance"
	rejectUnreadable = "unreadable"
)

// ConsolidationResult summarizes a consolidation pass.
type ConsolidationResult struct {
	Events           []string
	Accepted         int
	Rejected         int
	MetadataFailures int
}

// Consolidator merges the per-server staging trees into per-event raw/ and
// resp/ directories.
type Consolidator struct {
	codec       TraceCodec
	metadata    MetadataSource
	layout      domain.Layout
	minDistance float64
	report      *domain.Report
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewConsolidator creates the consolidation stage. minDistance is in degrees.
func NewConsolidator(codec TraceCodec, metadata MetadataSource, layout domain.Layout, minDistance float64,
	report *domain.Report, logger *slog.Logger, metrics *observability.Metrics) *Consolidator {
	return &Consolidator{
		codec:       codec,
		metadata:    metadata,
		layout:      layout,
		minDistance: minDistance,
		report:      report,
		logger:      logger,
		metrics:     metrics,
	}
}

// Run consolidates the staging trees of servers. Servers are visited in the
// given order, so when two servers staged the same file name for an event
// the first one wins. Every staging tree is removed at the end.
func (c *Consolidator) Run(ctx context.Context, servers []string) (ConsolidationResult, error) {
	var res ConsolidationResult

	events, err := c.stagedEvents(servers)
	if err != nil {
		return res, err
	}
	res.Events = events

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := c.layout.EnsureEventDirectory(ev); err != nil {
			return res, err
		}
		for _, server := range servers {
			if err := c.consolidateServer(ctx, server, ev, &res); err != nil {
				return res, err
			}
		}
	}

	c.removeStaging(servers)
	c.logger.Info("consolidation finished",
		"events", len(res.Events),
		"accepted", res.Accepted,
		"rejected", res.Rejected,
		"metadata_failures", res.MetadataFailures,
	)
	return res, nil
}

// stagedEvents is the sorted union of event ids that have at least one file
// in some server's staging tree.
func (c *Consolidator) stagedEvents(servers []string) ([]string, error) {
	seen := make(map[string]bool)
	for _, server := range servers {
		entries, err := os.ReadDir(c.layout.StagingDir(server))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list staging tree %s: %w", server, err)
		}
		for _, e := range entries {
			if !e.IsDir() || seen[e.Name()] {
				continue
			}
			files, err := os.ReadDir(c.layout.StagingEventDir(server, e.Name()))
			if err != nil {
				return nil, fmt.Errorf("list staging tree %s/%s: %w", server, e.Name(), err)
			}
			if len(files) > 0 {
				seen[e.Name()] = true
			}
		}
	}

	events := make([]string, 0, len(seen))
	for ev := range seen {
		events = append(events, ev)
	}
	slices.Sort(events)
	return events, nil
}

func (c *Consolidator) consolidateServer(ctx context.Context, server, ev string, res *ConsolidationResult) error {
	dir := c.layout.StagingEventDir(server, ev)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list staging tree %s/%s: %w", server, ev, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := c.accept(server, ev, filepath.Join(dir, e.Name()), e.Name())
		if !ok {
			res.Rejected++
			continue
		}
		res.Accepted++
		c.metrics.TracesAccepted.Inc()

		if err := c.fetchMetadata(ctx, server, ev, id); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			res.MetadataFailures++
		}
	}
	return nil
}

// accept applies the dedup, channel and distance rules and copies an
// accepted file into raw/.
func (c *Consolidator) accept(server, ev, src, name string) (domain.TraceID, bool) {
	dst := filepath.Join(c.layout.RawDir(ev), name)
	if _, err := os.Stat(dst); err == nil {
		c.reject(rejectDuplicate, server, ev, name, nil)
		return domain.TraceID{}, false
	}

	id, err := domain.ParseTraceFileName(name)
	if err != nil {
		c.reject(rejectUnreadable, server, ev, name, err)
		return domain.TraceID{}, false
	}
	if !domain.IsAllowedChannel(id.Channel) {
		c.reject(rejectChannel, server, ev, name, nil)
		return id, false
	}

	tr, err := c.codec.ReadTrace(src)
	if err != nil {
		c.reject(rejectUnreadable, server, ev, name, err)
		return id, false
	}
	deg, ok := tr.DistanceDegrees()
	if !ok {
		c.reject(rejectUnreadable, server, ev, name, errors.New("trace has no distance or coordinates"))
		return id, false
	}
	if deg < c.minDistance {
		c.reject(rejectDistance, server, ev, name, nil)
		return id, false
	}

	if err := copyFile(src, dst); err != nil {
		c.reject(rejectUnreadable, server, ev, name, err)
		return id, false
	}
	return id, true
}

// reject counts a dropped file. Rule rejections are expected and logged at
// debug level; unreadable files are warnings and go into the report.
func (c *Consolidator) reject(reason, server, ev, name string, err error) {
	c.metrics.TracesRejected.WithLabelValues(reason).Inc()
	if err == nil {
		c.logger.Debug("trace rejected", "reason", reason, "server", server, "event", ev, "file", name)
		return
	}
	c.logger.Warn("trace dropped", "reason", reason, "server", server, "event", ev, "file", name, "error", err)
	c.report.Fail(domain.ItemResult{Stage: domain.StageConsolidate, Server: server, EventID: ev}, fmt.Errorf("%s: %w", name, err))
}

func (c *Consolidator) fetchMetadata(ctx context.Context, server, ev string, id domain.TraceID) error {
	res := domain.ItemResult{Stage: domain.StageMetadata, Server: server, EventID: ev, Trace: id}

	doc, err := c.metadata.FetchResponse(ctx, server, id)
	if err == nil {
		path := filepath.Join(c.layout.RespDir(ev), id.ResponseFileName())
		if werr := os.WriteFile(path, doc, 0o644); werr != nil {
			err = fmt.Errorf("write response: %w", werr)
		}
	}
	if err != nil {
		c.logger.Warn("metadata fetch failed",
			"event", ev,
			"network", id.Network,
			"station", id.Station,
			"channel", id.Channel,
			"server", server,
			"error", err,
		)
		c.metrics.MetadataRequests.WithLabelValues("error").Inc()
		c.report.Fail(res, err)
		return err
	}

	c.metrics.MetadataRequests.WithLabelValues("success").Inc()
	c.report.Succeed(res)
	c.logger.Info("downloaded response", "network", id.Network, "station", id.Station, "channel", id.Channel)
	return nil
}

func (c *Consolidator) removeStaging(servers []string) {
	for _, server := range servers {
		if err := os.RemoveAll(c.layout.StagingDir(server)); err != nil {
			c.logger.Warn("remove staging tree failed", "server", server, "error", err)
			c.report.Fail(domain.ItemResult{Stage: domain.StageConsolidate, Server: server}, err)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return out.Close()
}
