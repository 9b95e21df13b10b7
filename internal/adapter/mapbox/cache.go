package mapbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// geocoder is the pair of lookups CachedGeocoder decorates.
type geocoder interface {
	Lookup(ctx context.Context, name string) (domain.Place, bool, error)
	ResolveToponym(ctx context.Context, c domain.Coordinate) (domain.Region, error)
}

// CachedGeocoder wraps a geocoder with in-memory LRU caches.
type CachedGeocoder struct {
	inner   geocoder
	places  *lruCache[domain.Place]
	regions *lruCache[domain.Region]
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		places:  newLRUCache[domain.Place](maxEntries),
		regions: newLRUCache[domain.Region](maxEntries),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) Lookup(ctx context.Context, name string) (domain.Place, bool, error) {
	key := "fwd:" + strings.ToLower(strings.TrimSpace(name))
	if place, ok := c.places.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("forward", "hit").Inc()
		return place, true, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("forward", "miss").Inc()

	place, ok, err := c.inner.Lookup(ctx, name)
	if err != nil || !ok {
		return place, ok, err
	}
	// Only cache matches so transient "not found" responses can be retried.
	c.places.put(key, place)
	return place, true, nil
}

func (c *CachedGeocoder) ResolveToponym(ctx context.Context, coord domain.Coordinate) (domain.Region, error) {
	key := fmt.Sprintf("rev:%.4f,%.4f", coord.Lat, coord.Lon)
	if region, ok := c.regions.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("reverse", "hit").Inc()
		return region, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("reverse", "miss").Inc()

	region, err := c.inner.ResolveToponym(ctx, coord)
	if err != nil {
		return region, err
	}
	if region != (domain.Region{}) {
		c.regions.put(key, region)
	}
	return region, nil
}

// lruCache is a simple thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
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

func (c *lruCache[V]) remove(e *entry[V]) {
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

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
