package fdsn

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/observability"
)

const (
	headerContentType = "Content-Type"
	contentTypeText   = "text/plain"
)

const eventsText = `#EventID|Time|Latitude|Longitude|Depth/km|Author|Catalog|Contributor|ContributorID|MagType|Magnitude|MagAuthor|EventLocationName
us1000abcd|2013-05-24T05:44:48.980|54.892|153.221|598.1|us|us|us|us1000abcd|mww|8.3|us|Sea of Okhotsk
usp000jqsx|2012-08-14T02:59:38.000Z|49.80|145.06|583.2|us|us|us|usp000jqsx|mww|7.7|us|Sea of Okhotsk
`

const channelsText = `#Network|Station|Location|Channel|Latitude|Longitude|Elevation|Depth|Azimuth|Dip|SensorDescription|Scale|ScaleFreq|ScaleUnits|SampleRate|StartTime|EndTime
BL|AQDB||BHZ|-20.4806|-55.7002|170.0|0|0|-90|STS-2|6e8|1|M/S|20|2010-01-01T00:00:00|
BL|AQDB||HHZ|-20.4806|-55.7002|170.0|0|0|-90|STS-2|6e8|1|M/S|100|2010-01-01T00:00:00|
BL|AQDB||LHZ|-20.4806|-55.7002|170.0|0|0|-90|STS-2|6e8|1|M/S|1|2010-01-01T00:00:00|
BL|AQDB||BHN|-20.4806|-55.7002|170.0|0|0|0|STS-2|6e8|1|M/S|20|2010-01-01T00:00:00|
BL|OLD||BHZ|-10.0|-50.0|100.0|0|0|-90|STS-2|6e8|1|M/S|20|2000-01-01T00:00:00|2005-01-01T00:00:00
IU|SAML||BHZ|40.0|-50.0|100.0|0|0|-90|STS-2|6e8|1|M/S|20|2000-01-01T00:00:00|
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(baseURL string) *Client {
	opts := DefaultOptions()
	opts.Timeout = 5 * time.Second
	opts.RateLimit = 0
	opts.EventBaseURL = baseURL
	return NewClient(Endpoint{Server: "TEST", BaseURL: baseURL}, opts, observability.NewMetricsForTesting(), discardLogger())
}

func testRequest(t *testing.T, horizontal bool) domain.Request {
	t.Helper()
	reqs, err := domain.BuildRequests(domain.RequestParams{
		Start:                "2012-01-01",
		End:                  "2013-12-31",
		Preset:               200,
		Offset:               4000,
		HorizontalComponents: horizontal,
		EventArea:            domain.WorldArea(),
		StationArea:          domain.BrazilArea(),
		MinMagnitude:         5.5,
		MaxDepth:             700,
	}, []string{"TEST"})
	require.NoError(t, err)
	return reqs[0]
}

// miniSEEDRecord builds a 512-byte INT32 record.
func miniSEEDRecord(net, sta, cha string, start time.Time, samples []int32) []byte {
	rec := make([]byte, 512)
	copy(rec[0:8], "000001D ")
	copy(rec[8:13], (sta + "     ")[:5])
	copy(rec[13:15], "  ")
	copy(rec[15:18], cha)
	copy(rec[18:20], net)
	be := binary.BigEndian
	be.PutUint16(rec[20:], uint16(start.Year()))
	be.PutUint16(rec[22:], uint16(start.YearDay()))
	rec[24], rec[25], rec[26] = byte(start.Hour()), byte(start.Minute()), byte(start.Second())
	be.PutUint16(rec[30:], uint16(len(samples)))
	be.PutUint16(rec[32:], 20)
	be.PutUint16(rec[34:], 1)
	rec[39] = 1
	be.PutUint16(rec[44:], 64)
	be.PutUint16(rec[46:], 48)
	be.PutUint16(rec[48:], 1000)
	rec[52], rec[53], rec[54] = 3, 1, 9
	var buf bytes.Buffer
	_ = binary.Write(&buf, be, samples)
	copy(rec[64:], buf.Bytes())
	return rec
}

func TestClient_Events(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fdsnws/event/1/query", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "5.5", q.Get("minmagnitude"))
		assert.Equal(t, "10", q.Get("maxmagnitude"))
		assert.Equal(t, "0", q.Get("mindepth"))
		assert.Equal(t, "700", q.Get("maxdepth"))
		assert.Equal(t, "2012-01-01T00:00:00.000", q.Get("starttime"))
		assert.Equal(t, "2013-12-31T23:59:59.999", q.Get("endtime"))
		assert.Equal(t, "text", q.Get("format"))
		w.Header().Set(headerContentType, contentTypeText)
		_, _ = io.WriteString(w, eventsText)
	}))
	defer srv.Close()

	events, err := testClient(srv.URL).Events(context.Background(), testRequest(t, false))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "2013.144.05.44.48", events[0].ID)
	assert.Equal(t, "us1000abcd", events[0].CatalogID)
	assert.InDelta(t, 598.1, events[0].Depth, 1e-9)
	assert.InDelta(t, 8.3, events[0].Magnitude, 1e-9)
	assert.Equal(t, "Sea of Okhotsk", events[0].Region)
	assert.Equal(t, "2012.227.02.59.38", events[1].ID)
}

func TestClient_EventsNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	events, err := testClient(srv.URL).Events(context.Background(), testRequest(t, false))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClient_Channels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fdsnws/station/1/query", r.URL.Path)
		assert.Equal(t, "channel", r.URL.Query().Get("level"))
		assert.Equal(t, "?HZ", r.URL.Query().Get("channel"))
		assert.Equal(t, "-74", r.URL.Query().Get("minlongitude"))
		_, _ = io.WriteString(w, channelsText)
	}))
	defer srv.Close()

	channels, err := testClient(srv.URL).Channels(context.Background(), testRequest(t, false))
	require.NoError(t, err)
	require.Len(t, channels, 6)
	assert.Equal(t, "BL.AQDB..BHZ", channels[0].ID.String())
	assert.InDelta(t, 20.0, channels[0].SampleRate, 0)
	assert.True(t, channels[0].End.IsZero())
	assert.False(t, channels[4].End.IsZero())
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal failure", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Channels(context.Background(), testRequest(t, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.NotErrorIs(t, err, ErrNoData)
}

func TestClient_Waveform(t *testing.T) {
	start := time.Date(2013, time.May, 24, 5, 41, 28, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fdsnws/dataselect/1/query", r.URL.Path)
		assert.Equal(t, "--", r.URL.Query().Get("loc"))
		assert.Equal(t, "BHZ", r.URL.Query().Get("cha"))
		_, _ = w.Write(miniSEEDRecord("BL", "AQDB", "BHZ", start, []int32{1, 2, 3}))
	}))
	defer srv.Close()

	id := domain.TraceID{Network: "BL", Station: "AQDB", Channel: "BHZ"}
	traces, err := testClient(srv.URL).Waveform(context.Background(), id, start, start.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, []float64{1, 2, 3}, traces[0].Data)
}

func TestClient_WaveformAuthenticatedUsesDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fdsnws/dataselect/1/queryauth", r.URL.Path)
		auth := r.Header.Get("Authorization")
		if auth == "" {
			w.Header().Set("WWW-Authenticate", `Digest realm="FDSN", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", qop="auth", algorithm=MD5`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.True(t, strings.HasPrefix(auth, "Digest "))
		assert.Contains(t, auth, `username="seismo"`)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(Endpoint{Server: "USP", BaseURL: srv.URL, Username: "seismo", Password: "s3cret"},
		Options{Timeout: 5 * time.Second}, observability.NewMetricsForTesting(), discardLogger())

	id := domain.TraceID{Network: "BL", Station: "AQDB", Channel: "BHZ"}
	_, err := c.Waveform(context.Background(), id, time.Now(), time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestClient_StationResponseBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "response", r.URL.Query().Get("level"))
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.RateLimit = 0
	opts.BreakerThreshold = 2
	c := NewClient(Endpoint{Server: "TEST", BaseURL: srv.URL}, opts, observability.NewMetricsForTesting(), discardLogger())

	id := domain.TraceID{Network: "BL", Station: "AQDB", Channel: "BHZ"}
	for range 2 {
		_, err := c.StationResponse(context.Background(), id)
		require.Error(t, err)
	}
	_, err := c.StationResponse(context.Background(), id)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_StationResponseNoDataKeepsBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.RateLimit = 0
	opts.BreakerThreshold = 1
	c := NewClient(Endpoint{Server: "TEST", BaseURL: srv.URL}, opts, observability.NewMetricsForTesting(), discardLogger())

	id := domain.TraceID{Network: "BL", Station: "AQDB", Channel: "BHZ"}
	for range 3 {
		_, err := c.StationResponse(context.Background(), id)
		assert.ErrorIs(t, err, ErrNoData)
	}
}

func TestParseEvents_Malformed(t *testing.T) {
	_, err := parseEvents([]byte("a|b|c\n"), "usgs")
	assert.Error(t, err)
}

func TestParseChannels_SkipsMalformedRows(t *testing.T) {
	body := `#Network|Station|Location|Channel|Latitude|Longitude|Elevation|Depth|Azimuth|Dip|SensorDescription|Scale|ScaleFreq|ScaleUnits|SampleRate|StartTime|EndTime
BL|AQDB||BHZ|-20.4806|-55.7002|170.0|0|0|-90|STS-2|6e8|1|M/S|20|2010-01-01T00:00:00|
BL|AQDB||BHN|-20.4806|-55.7002|170.0|0|0|0|0|STS-2|6e8|1|M/S|20|2010-01-01T00:00:00|
BL|BAD||BHZ|north|-55.7002|170.0|0|0|-90|STS-2|6e8|1|M/S|20|2010-01-01T00:00:00|
BL|SHORT||BHZ
IU|SAML||BHZ|40.0|-50.0|100.0|0|0|-90|STS-2|6e8|1|M/S|20|2000-01-01T00:00:00|
`
	channels, err := parseChannels([]byte(body), discardLogger())
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "BL.AQDB..BHZ", channels[0].ID.String())
	assert.Equal(t, "IU.SAML..BHZ", channels[1].ID.String())
}
