package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	// EventCatalog is the catalog every server request is paired with. Using a
	// single catalog keeps event identifiers consistent across data centers.
	EventCatalog = "usgs"

	// MaxMagnitude is the fixed upper bound of the magnitude constraint.
	MaxMagnitude = 10.0

	// TargetSampleRate (Hz) drives band-code selection when a station offers
	// several sampling rates for the same component.
	TargetSampleRate = 20.0
)

// VerticalComponents and AllComponents are the orientation-code sets a request
// can carry. "1" and "2" are the non-geographic aliases of N and E.
var (
	VerticalComponents = []string{"Z"}
	AllComponents      = []string{"Z", "N", "E", "1", "2"}
)

// InstrumentCodes restricts channel selection to high-gain seismometers.
var InstrumentCodes = []string{"H"}

// RequestParams holds the user-facing constraints a set of requests is built from.
type RequestParams struct {
	Start                string
	End                  string
	Preset               int // seconds before origin
	Offset               int // seconds after origin
	HorizontalComponents bool
	EventArea            AreaRange
	StationArea          AreaRange
	MinMagnitude         float64
	MaxDepth             float64
}

// Request is one event-based search (event query + station query + channel
// filter) scoped to a single server.
type Request struct {
	Server           string    `json:"server"`
	Catalog          string    `json:"catalog"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	Window           Range     `json:"window"`
	EventArea        AreaRange `json:"event_area"`
	Magnitude        Range     `json:"magnitude"`
	Depth            Range     `json:"depth"`
	StationArea      AreaRange `json:"station_area"`
	TargetSampleRate float64   `json:"target_sample_rate"`
	InstrumentCodes  []string  `json:"instrument_codes"`
	Components       []string  `json:"components"`
}

// BuildRequests constructs one Request per server, in server order. It performs
// no I/O.
func BuildRequests(p RequestParams, servers []string) ([]Request, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("%w: no servers configured", ErrInvalidRequest)
	}

	start, err := parseDate(p.Start, false)
	if err != nil {
		return nil, err
	}
	end, err := parseDate(p.End, true)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidRequest, p.End, p.Start)
	}

	window, err := NewRange(-float64(p.Preset), float64(p.Offset))
	if err != nil {
		return nil, fmt.Errorf("time window: %w", err)
	}
	magnitude, err := NewRange(p.MinMagnitude, MaxMagnitude)
	if err != nil {
		return nil, fmt.Errorf("magnitude: %w", err)
	}
	depth, err := NewRange(0, p.MaxDepth)
	if err != nil {
		return nil, fmt.Errorf("depth: %w", err)
	}

	requests := make([]Request, 0, len(servers))
	for _, server := range servers {
		rq := Request{
			Server:           server,
			Catalog:          EventCatalog,
			Start:            start,
			End:              end,
			Window:           window,
			EventArea:        p.EventArea,
			Magnitude:        magnitude,
			Depth:            depth,
			StationArea:      p.StationArea,
			TargetSampleRate: TargetSampleRate,
			InstrumentCodes:  slices.Clone(InstrumentCodes),
			Components:       slices.Clone(AllComponents),
		}
		if !p.HorizontalComponents {
			rq = rq.FilterComponents(VerticalComponents...)
		}
		requests = append(requests, rq)
	}
	return requests, nil
}

// FilterComponents returns a copy of the request whose channel selection keeps
// only the given orientation codes.
func (r Request) FilterComponents(codes ...string) Request {
	kept := make([]string, 0, len(codes))
	for _, c := range r.Components {
		if slices.Contains(codes, c) {
			kept = append(kept, c)
		}
	}
	r.Components = kept
	r.InstrumentCodes = slices.Clone(r.InstrumentCodes)
	return r
}

// AcceptsChannel reports whether a SEED channel code (band, instrument,
// orientation) matches the request's instrument and component filters.
func (r Request) AcceptsChannel(channel string) bool {
	if len(channel) != 3 {
		return false
	}
	return slices.Contains(r.InstrumentCodes, channel[1:2]) && slices.Contains(r.Components, channel[2:3])
}

// ChannelPattern renders the request's channel filter as an FDSN channel
// pattern list, e.g. "?HZ" or "?HZ,?HN,?HE,?H1,?H2".
func (r Request) ChannelPattern() string {
	var patterns []string
	for _, inst := range r.InstrumentCodes {
		for _, comp := range r.Components {
			patterns = append(patterns, "?"+inst+comp)
		}
	}
	return strings.Join(patterns, ",")
}

// parseDate accepts "2006-01-02" or RFC 3339. A bare date used as an end bound
// covers the whole day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		if endOfDay {
			return t.Add(24*time.Hour - time.Millisecond), nil
		}
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: date %q: want YYYY-MM-DD or RFC 3339", ErrInvalidRequest, s)
}
