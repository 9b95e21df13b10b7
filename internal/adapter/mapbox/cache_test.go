package mapbox

import (
	"context"
	"testing"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock for cache tests ---

type countingGeocoder struct {
	forwardCalls int
	reverseCalls int
	place        domain.Place
	found        bool
	region       domain.Region
}

func (m *countingGeocoder) Lookup(context.Context, string) (domain.Place, bool, error) {
	m.forwardCalls++
	return m.place, m.found, nil
}

func (m *countingGeocoder) ResolveToponym(context.Context, domain.Coordinate) (domain.Region, error) {
	m.reverseCalls++
	return m.region, nil
}

// --- CachedGeocoder tests ---

func TestCachedGeocoder_LookupCacheHit(t *testing.T) {
	inner := &countingGeocoder{
		place: domain.Place{Name: "Napoli", Coordinate: domain.Coordinate{Lat: 40.85, Lon: 14.27}},
		found: true,
	}
	metrics := testMetrics()
	cached := NewCachedGeocoder(inner, 10, metrics)

	p1, ok, err := cached.Lookup(context.Background(), "NAPOLI")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Napoli", p1.Name)

	p2, ok, err := cached.Lookup(context.Background(), " napoli ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p1, p2)

	assert.Equal(t, 1, inner.forwardCalls, "should only call inner once")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("forward", "hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("forward", "miss")), 0)
}

func TestCachedGeocoder_MissesAreNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	cached := NewCachedGeocoder(inner, 10, testMetrics())

	_, _, _ = cached.Lookup(context.Background(), "Atlantis")
	_, _, _ = cached.Lookup(context.Background(), "Atlantis")

	assert.Equal(t, 2, inner.forwardCalls)
}

func TestCachedGeocoder_ResolveToponymCacheHit(t *testing.T) {
	inner := &countingGeocoder{region: domain.Region{Toponym: "Sendai", Name: "Miyagi"}}
	cached := NewCachedGeocoder(inner, 10, testMetrics())

	_, err := cached.ResolveToponym(context.Background(), domain.Coordinate{Lat: 38.26821, Lon: 140.86941})
	require.NoError(t, err)

	r, err := cached.ResolveToponym(context.Background(), domain.Coordinate{Lat: 38.26819, Lon: 140.86939})
	require.NoError(t, err)
	assert.Equal(t, "Sendai", r.Toponym)

	assert.Equal(t, 1, inner.reverseCalls, "nearby coordinates share a cache key")
}

func TestCachedGeocoder_DifferentKeysMiss(t *testing.T) {
	inner := &countingGeocoder{place: domain.Place{Name: "Place"}, found: true}
	cached := NewCachedGeocoder(inner, 10, testMetrics())

	_, _, _ = cached.Lookup(context.Background(), "Izmir")
	_, _, _ = cached.Lookup(context.Background(), "Lima")

	assert.Equal(t, 2, inner.forwardCalls)
}

// --- LRU cache unit tests ---

func TestLRUCache_BasicGetPut(t *testing.T) {
	c := newLRUCache[string](3)

	c.put("a", "A")
	c.put("b", "B")

	result, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A", result)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache[string](2)

	c.put("a", "A")
	c.put("b", "B")
	c.put("c", "C") // evicts "a"

	_, ok := c.get("a")
	assert.False(t, ok, "a should have been evicted")

	result, ok := c.get("b")
	assert.True(t, ok)
	assert.Equal(t, "B", result)

	result, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, "C", result)
}

func TestLRUCache_AccessPromotesEntry(t *testing.T) {
	c := newLRUCache[string](2)

	c.put("a", "A")
	c.put("b", "B")

	// Access "a" to promote it
	c.get("a")

	// Insert "c"; should evict "b" (LRU), not "a"
	c.put("c", "C")

	_, ok := c.get("a")
	assert.True(t, ok, "a was accessed recently, should not be evicted")

	_, ok = c.get("b")
	assert.False(t, ok, "b should have been evicted")
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache[domain.Region](2)

	c.put("a", domain.Region{Name: "A1"})
	c.put("a", domain.Region{Name: "A2"})

	result, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A2", result.Name)
}
