package fdsn

import (
	"context"
	"slices"
	"sync"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/observability"
)

// MetadataFetcher downloads a StationXML response document.
type MetadataFetcher interface {
	FetchResponse(ctx context.Context, server string, id domain.TraceID) ([]byte, error)
}

// CachedMetadata wraps a MetadataFetcher with an in-memory LRU cache. The same
// station and channel usually recorded many events, so a run asks for the same
// document once per event.
type CachedMetadata struct {
	inner   MetadataFetcher
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedMetadata creates a cache decorator around a fetcher.
func NewCachedMetadata(inner MetadataFetcher, maxEntries int, metrics *observability.Metrics) *CachedMetadata {
	return &CachedMetadata{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedMetadata) FetchResponse(ctx context.Context, server string, id domain.TraceID) ([]byte, error) {
	key := server + "|" + id.Network + "." + id.Station + "." + id.Channel
	if doc, ok := c.cache.get(key); ok {
		c.metrics.MetadataCache.WithLabelValues("hit").Inc()
		return slices.Clone(doc), nil
	}
	c.metrics.MetadataCache.WithLabelValues("miss").Inc()

	doc, err := c.inner.FetchResponse(ctx, server, id)
	if err != nil {
		return nil, err
	}
	c.cache.put(key, slices.Clone(doc))
	return doc, nil
}

// lruCache is a simple thread-safe LRU cache of response documents.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value []byte
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
