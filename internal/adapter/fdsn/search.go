package fdsn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/seismo"
)

// Search runs an event-based request: it queries the event catalog, lists the
// matching channels inside the station area, and downloads a window around
// each origin for every selected channel. Traces are written as SAC to
// dir/<event_id>/NET.STA.LOC.CHA.SAC with event and station headers set.
// Files that already exist are left alone. It returns the number of files
// written.
func (c *Client) Search(ctx context.Context, req domain.Request, dir string) (int, error) {
	events, err := c.Events(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("event query: %w", err)
	}
	if len(events) == 0 {
		c.logger.Info("no events match the request")
		return 0, nil
	}

	channels, err := c.Channels(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("station query: %w", err)
	}
	c.logger.Info("search scope", "events", len(events), "channels", len(channels))

	written := 0
	for _, ev := range events {
		selected := SelectChannels(channels, req, ev.Origin)
		for _, ch := range selected {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			ok, err := c.fetchTrace(ctx, req, ev, ch, filepath.Join(dir, ev.ID))
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return written, ctxErr
				}
				if errors.Is(err, ErrNoData) {
					c.logger.Debug("no waveform data", "event", ev.ID, "channel", ch.ID.String())
					continue
				}
				c.logger.Warn("waveform download failed",
					"event", ev.ID,
					"network", ch.ID.Network,
					"station", ch.ID.Station,
					"channel", ch.ID.Channel,
					"error", err,
				)
				continue
			}
			if ok {
				written++
				c.metrics.TracesFetched.WithLabelValues(c.endpoint.Server).Inc()
			}
		}
	}
	return written, nil
}

func (c *Client) fetchTrace(ctx context.Context, req domain.Request, ev domain.Event, ch ChannelInfo, eventDir string) (bool, error) {
	path := filepath.Join(eventDir, ch.ID.FileName())
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	start := ev.Origin.Add(secondsToDuration(req.Window.Low))
	end := ev.Origin.Add(secondsToDuration(req.Window.High))
	traces, err := c.Waveform(ctx, ch.ID, start, end)
	if err != nil {
		return false, err
	}
	tr := longestTrace(traces, ch.ID)
	if tr == nil {
		return false, ErrNoData
	}

	tr.ID = ch.ID
	tr.StationLat = ch.Latitude
	tr.StationLon = ch.Longitude
	tr.StationElev = ch.Elevation
	tr.CmpAz = ch.Azimuth
	tr.CmpInc = ch.Dip + 90
	tr.EventName = ev.ID
	tr.EventLat = ev.Latitude
	tr.EventLon = ev.Longitude
	tr.EventDepth = ev.Depth
	tr.Magnitude = ev.Magnitude
	tr.Origin = ev.Origin
	tr.SetGeometry()

	if err := os.MkdirAll(eventDir, 0o755); err != nil {
		return false, fmt.Errorf("create staging directory: %w", err)
	}
	if err := seismo.WriteSAC(path, tr); err != nil {
		return false, err
	}
	return true, nil
}

// SelectChannels keeps the channels that match the request filters, are
// inside the station area and are active at the origin time. For each
// station, location and orientation, only the band whose sample rate is
// closest to the request's target rate is kept.
func SelectChannels(channels []ChannelInfo, req domain.Request, origin time.Time) []ChannelInfo {
	type groupKey struct{ net, sta, loc, comp string }
	best := make(map[groupKey]ChannelInfo)
	var order []groupKey

	for _, ch := range channels {
		if !req.AcceptsChannel(ch.ID.Channel) || !ch.ActiveAt(origin) {
			continue
		}
		if !req.StationArea.Contains(ch.Latitude, ch.Longitude) {
			continue
		}
		k := groupKey{ch.ID.Network, ch.ID.Station, ch.ID.Location, ch.ID.Channel[2:]}
		cur, seen := best[k]
		if !seen {
			order = append(order, k)
			best[k] = ch
			continue
		}
		if math.Abs(ch.SampleRate-req.TargetSampleRate) < math.Abs(cur.SampleRate-req.TargetSampleRate) {
			best[k] = ch
		}
	}

	out := make([]ChannelInfo, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	slices.SortStableFunc(out, func(a, b ChannelInfo) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

func longestTrace(traces []*seismo.Trace, id domain.TraceID) *seismo.Trace {
	var best *seismo.Trace
	for _, tr := range traces {
		if tr.ID.Channel != id.Channel || tr.ID.Station != id.Station {
			continue
		}
		if best == nil || len(tr.Data) > len(best.Data) {
			best = tr
		}
	}
	return best
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
