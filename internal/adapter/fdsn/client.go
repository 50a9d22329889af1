package fdsn

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/icholy/digest"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/observability"
	"github.com/nascimentoandre/download-surftomo-data/internal/seismo"
)

// Service names, used as metric labels.
const (
	serviceEvent      = "event"
	serviceStation    = "station"
	serviceDataselect = "dataselect"
)

const queryTimeLayout = "2006-01-02T15:04:05.000"

// Options tunes the HTTP behavior of a Client.
type Options struct {
	Timeout          time.Duration
	RateLimit        float64 // requests per second; <= 0 disables limiting
	BreakerThreshold uint32  // consecutive metadata failures before the breaker opens
	EventBaseURL     string  // event catalog service; defaults to USGS
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:          2 * time.Minute,
		RateLimit:        5,
		BreakerThreshold: 20,
		EventBaseURL:     USGSBaseURL,
	}
}

// Client talks to the event, station and dataselect services of one FDSN
// data center.
type Client struct {
	endpoint   Endpoint
	httpClient *http.Client
	baseURL    string
	eventURL   string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a client for a resolved endpoint. Authenticated
// endpoints use HTTP digest auth and the queryauth dataselect method.
func NewClient(ep Endpoint, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	var transport http.RoundTripper = http.DefaultTransport
	if ep.Authenticated() {
		transport = &digest.Transport{
			Username:  ep.Username,
			Password:  ep.Password,
			Transport: http.DefaultTransport,
		}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	eventURL := opts.EventBaseURL
	if eventURL == "" {
		eventURL = USGSBaseURL
	}
	logger = logger.With("server", ep.Server)

	c := &Client{
		endpoint: ep,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		baseURL:  strings.TrimRight(ep.BaseURL, "/"),
		eventURL: strings.TrimRight(eventURL, "/"),
		limiter:  rate.NewLimiter(limit, 1),
		metrics:  metrics,
		logger:   logger,
	}

	threshold := opts.BreakerThreshold
	if threshold == 0 {
		threshold = DefaultOptions().BreakerThreshold
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    ep.Server + "-station",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("metadata circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData)
		},
	})
	return c
}

// Server is the configured server name.
func (c *Client) Server() string { return c.endpoint.Server }

// Events queries the event catalog for the request's time, magnitude, depth
// and area constraints.
func (c *Client) Events(ctx context.Context, req domain.Request) ([]domain.Event, error) {
	params := url.Values{
		"starttime":    {formatTime(req.Start)},
		"endtime":      {formatTime(req.End)},
		"minmagnitude": {formatFloat(req.Magnitude.Low)},
		"maxmagnitude": {formatFloat(req.Magnitude.High)},
		"mindepth":     {formatFloat(req.Depth.Low)},
		"maxdepth":     {formatFloat(req.Depth.High)},
		"orderby":      {"time-asc"},
		"format":       {"text"},
	}
	addArea(params, req.EventArea)

	body, err := c.get(ctx, serviceEvent, c.eventURL+"/fdsnws/event/1/query?"+params.Encode())
	if errors.Is(err, ErrNoData) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseEvents(body, req.Catalog)
}

// Channels lists the channels inside the request's station area that match
// its channel pattern.
func (c *Client) Channels(ctx context.Context, req domain.Request) ([]ChannelInfo, error) {
	params := url.Values{
		"starttime": {formatTime(req.Start)},
		"endtime":   {formatTime(req.End.Add(time.Duration(req.Window.High) * time.Second))},
		"channel":   {req.ChannelPattern()},
		"level":     {"channel"},
		"format":    {"text"},
	}
	addArea(params, req.StationArea)

	body, err := c.get(ctx, serviceStation, c.baseURL+"/fdsnws/station/1/query?"+params.Encode())
	if errors.Is(err, ErrNoData) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseChannels(body, c.logger)
}

// Waveform downloads and decodes one channel over a time window.
func (c *Client) Waveform(ctx context.Context, id domain.TraceID, start, end time.Time) ([]*seismo.Trace, error) {
	loc := id.Location
	if loc == "" {
		loc = "--"
	}
	params := url.Values{
		"net":       {id.Network},
		"sta":       {id.Station},
		"loc":       {loc},
		"cha":       {id.Channel},
		"starttime": {formatTime(start)},
		"endtime":   {formatTime(end)},
	}
	method := "query"
	if c.endpoint.Authenticated() {
		method = "queryauth"
	}

	body, err := c.get(ctx, serviceDataselect, c.baseURL+"/fdsnws/dataselect/1/"+method+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	traces, err := seismo.DecodeMiniSEED(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode waveform %s: %w", id, err)
	}
	return traces, nil
}

// StationResponse downloads the StationXML document, at response level, for
// one network, station and channel. Calls go through the client's circuit
// breaker so a failing metadata service stops being hammered.
func (c *Client) StationResponse(ctx context.Context, id domain.TraceID) ([]byte, error) {
	params := url.Values{
		"network": {id.Network},
		"station": {id.Station},
		"channel": {id.Channel},
		"level":   {"response"},
	}
	u := c.baseURL + "/fdsnws/station/1/query?" + params.Encode()
	return c.breaker.Execute(func() ([]byte, error) {
		return c.get(ctx, serviceStation, u)
	})
}

func (c *Client) get(ctx context.Context, service, fullURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.FDSNDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.FDSNRequests.WithLabelValues(service, "error").Inc()
		return nil, fmt.Errorf("%s request: %w", service, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		c.metrics.FDSNRequests.WithLabelValues(service, "nodata").Inc()
		return nil, ErrNoData
	case resp.StatusCode != http.StatusOK:
		c.metrics.FDSNRequests.WithLabelValues(service, "error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s service error: status %d: %s", service, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.FDSNRequests.WithLabelValues(service, "error").Inc()
		return nil, fmt.Errorf("read %s response: %w", service, err)
	}
	if len(body) == 0 {
		c.metrics.FDSNRequests.WithLabelValues(service, "nodata").Inc()
		return nil, ErrNoData
	}
	c.metrics.FDSNRequests.WithLabelValues(service, "success").Inc()
	return body, nil
}

// ChannelInfo is one row of a station service response at channel level.
type ChannelInfo struct {
	ID         domain.TraceID
	Latitude   float64
	Longitude  float64
	Elevation  float64
	Azimuth    float64
	Dip        float64
	SampleRate float64
	Start      time.Time
	End        time.Time // zero when open
}

// ActiveAt reports whether the channel epoch covers t.
func (ch ChannelInfo) ActiveAt(t time.Time) bool {
	if !ch.Start.IsZero() && t.Before(ch.Start) {
		return false
	}
	return ch.End.IsZero() || t.Before(ch.End)
}

// parseEvents reads the FDSN event text format:
// EventID|Time|Latitude|Longitude|Depth/km|Author|Catalog|Contributor|ContributorID|MagType|Magnitude|MagAuthor|EventLocationName
func parseEvents(body []byte, catalog string) ([]domain.Event, error) {
	var events []domain.Event
	err := eachRow(body, 11, func(f []string) error {
		origin, err := parseTime(f[1])
		if err != nil {
			return err
		}
		lat, lon, depth, mag, err := parseFloats(f[2], f[3], f[4], f[10])
		if err != nil {
			return err
		}
		ev := domain.Event{
			ID:            domain.EventID(origin),
			CatalogID:     f[0],
			Origin:        origin,
			Latitude:      lat,
			Longitude:     lon,
			Depth:         depth,
			Magnitude:     mag,
			MagnitudeType: f[9],
		}
		if len(f) > 12 {
			ev.Region = f[12]
		}
		if ev.CatalogID == "" {
			ev.CatalogID = catalog + ":" + ev.ID
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse events: %w", err)
	}
	return events, nil
}

// parseChannels reads the FDSN station text format at channel level:
// Network|Station|Location|Channel|Latitude|Longitude|Elevation|Depth|Azimuth|Dip|SensorDescription|Scale|ScaleFreq|ScaleUnits|SampleRate|StartTime|EndTime
// Malformed rows are logged and skipped.
func parseChannels(body []byte, logger *slog.Logger) ([]ChannelInfo, error) {
	var channels []ChannelInfo
	err := eachRow(body, 0, func(f []string) error {
		ch, err := parseChannelRow(f)
		if err != nil {
			logger.Warn("skipping malformed channel row", "row", strings.Join(f, "|"), "error", err)
			return nil
		}
		channels = append(channels, ch)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse channels: %w", err)
	}
	return channels, nil
}

func parseChannelRow(f []string) (ChannelInfo, error) {
	if len(f) < 15 {
		return ChannelInfo{}, fmt.Errorf("want at least 15 fields, got %d", len(f))
	}
	lat, lon, elev, err := parseFloats3(f[4], f[5], f[6])
	if err != nil {
		return ChannelInfo{}, err
	}
	az, _ := strconv.ParseFloat(strings.TrimSpace(f[8]), 64)
	dip, _ := strconv.ParseFloat(strings.TrimSpace(f[9]), 64)
	sr, err := strconv.ParseFloat(strings.TrimSpace(f[14]), 64)
	if err != nil {
		return ChannelInfo{}, fmt.Errorf("sample rate %q: %w", f[14], err)
	}
	ch := ChannelInfo{
		ID: domain.TraceID{
			Network:  strings.TrimSpace(f[0]),
			Station:  strings.TrimSpace(f[1]),
			Location: strings.TrimSpace(f[2]),
			Channel:  strings.TrimSpace(f[3]),
		},
		Latitude:   lat,
		Longitude:  lon,
		Elevation:  elev,
		Azimuth:    az,
		Dip:        dip,
		SampleRate: sr,
	}
	if len(f) > 15 && strings.TrimSpace(f[15]) != "" {
		if ch.Start, err = parseTime(f[15]); err != nil {
			return ChannelInfo{}, err
		}
	}
	if len(f) > 16 && strings.TrimSpace(f[16]) != "" {
		if ch.End, err = parseTime(f[16]); err != nil {
			return ChannelInfo{}, err
		}
	}
	return ch, nil
}

func eachRow(body []byte, minFields int, fn func([]string) error) error {
	sc := bufio.NewScanner(bytes.NewReader(body))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "|")
		if len(fields) < minFields {
			return fmt.Errorf("line %d: want at least %d fields, got %d", line, minFields, len(fields))
		}
		if err := fn(fields); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}

func parseFloats(a, b, c, d string) (float64, float64, float64, float64, error) {
	x, y, z, err := parseFloats3(a, b, c)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(d), 64)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("bad number %q", d)
	}
	return x, y, z, w, nil
}

func parseFloats3(a, b, c string) (float64, float64, float64, error) {
	var out [3]float64
	for i, s := range []string{a, b, c} {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("bad number %q", s)
		}
		out[i] = v
	}
	return out[0], out[1], out[2], nil
}

func addArea(params url.Values, a domain.AreaRange) {
	params.Set("minlongitude", formatFloat(a.XMin))
	params.Set("maxlongitude", formatFloat(a.XMax))
	params.Set("minlatitude", formatFloat(a.YMin))
	params.Set("maxlatitude", formatFloat(a.YMax))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(queryTimeLayout)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
