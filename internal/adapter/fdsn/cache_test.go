package fdsn

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/observability"
)

type countingFetcher struct {
	calls int
	doc   []byte
	err   error
}

func (f *countingFetcher) FetchResponse(_ context.Context, _ string, _ domain.TraceID) ([]byte, error) {
	f.calls++
	return f.doc, f.err
}

var aqdb = domain.TraceID{Network: "BL", Station: "AQDB", Channel: "BHZ"}

func TestCachedMetadata_Hit(t *testing.T) {
	inner := &countingFetcher{doc: []byte("<FDSNStationXML/>")}
	metrics := observability.NewMetricsForTesting()
	cached := NewCachedMetadata(inner, 10, metrics)

	d1, err := cached.FetchResponse(context.Background(), "IRIS", aqdb)
	require.NoError(t, err)
	d2, err := cached.FetchResponse(context.Background(), "IRIS", aqdb)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.MetadataCache.WithLabelValues("hit")), 0)
}

func TestCachedMetadata_KeyedByServer(t *testing.T) {
	inner := &countingFetcher{doc: []byte("x")}
	cached := NewCachedMetadata(inner, 10, observability.NewMetricsForTesting())

	_, _ = cached.FetchResponse(context.Background(), "IRIS", aqdb)
	_, _ = cached.FetchResponse(context.Background(), "USP", aqdb)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedMetadata_ErrorsNotCached(t *testing.T) {
	inner := &countingFetcher{err: errors.New("timeout")}
	cached := NewCachedMetadata(inner, 10, observability.NewMetricsForTesting())

	_, err := cached.FetchResponse(context.Background(), "IRIS", aqdb)
	require.Error(t, err)
	_, err = cached.FetchResponse(context.Background(), "IRIS", aqdb)
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", []byte("1"))
	c.put("b", []byte("2"))
	c.get("a") // a is now most recent
	c.put("c", []byte("3"))

	_, ok := c.get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.get("a")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}
