package enrich

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

// fakeLookup fails the first failN calls of each lookup, or all of them
// when failN is negative.
type fakeLookup struct {
	mu    sync.Mutex
	failN map[string]int
	calls map[string]int
	radii map[string]float64
}

func newFakeLookup(failN map[string]int) *fakeLookup {
	if failN == nil {
		failN = map[string]int{}
	}
	return &fakeLookup{failN: failN, calls: map[string]int{}, radii: map[string]float64{}}
}

func (f *fakeLookup) hit(name string, radius float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	f.radii[name] = radius
	n := f.failN[name]
	if n < 0 || f.calls[name] <= n {
		return errBackend
	}
	return nil
}

func (f *fakeLookup) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeLookup) ResolveToponym(_ context.Context, c domain.Coordinate) (domain.Region, error) {
	if err := f.hit("toponym", 0); err != nil {
		return domain.Region{}, err
	}
	return domain.Region{Toponym: "Izmir", Name: "Aegean", Sea: c.Lon < 26.5}, nil
}

func (f *fakeLookup) PopulationNear(_ context.Context, _ domain.Coordinate, r float64) (int64, error) {
	if err := f.hit("population", r); err != nil {
		return 0, err
	}
	return 4_300_000, nil
}

func (f *fakeLookup) ReactorsNear(_ context.Context, _ domain.Coordinate, r float64) ([]domain.Facility, error) {
	if err := f.hit("reactors", r); err != nil {
		return nil, err
	}
	return []domain.Facility{{Name: "Akkuyu", Kind: "nuclear"}}, nil
}

func (f *fakeLookup) ImageryNear(_ context.Context, _ domain.Coordinate, r float64) ([]domain.ImagerySource, error) {
	if err := f.hit("imagery", r); err != nil {
		return nil, err
	}
	return []domain.ImagerySource{{Name: "Kordon", URL: "https://cams.example/kordon"}}, nil
}

func testConfig() Config {
	return Config{
		Workers:               2,
		QueueSize:             4,
		MaxAttempts:           3,
		Backoff:               time.Millisecond,
		RatePerSecond:         0,
		CacheTTL:              time.Minute,
		LookupTimeout:         time.Second,
		ImageryRadiusFraction: 0.8,
	}
}

func newTestResolver(l Lookup, cfg Config) (*Resolver, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return NewResolver(l, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), m), m
}

func testEvent() domain.Event {
	return domain.Event{
		ID:           "ev-1",
		State:        domain.EventConfirmed,
		Epicenter:    domain.Coordinate{Lat: 38.42, Lon: 27.14},
		FeltRadiusKm: 250,
	}
}

func TestEnrich_AllFields(t *testing.T) {
	l := newFakeLookup(nil)
	r, m := newTestResolver(l, testConfig())

	en := r.Enrich(context.Background(), testEvent())

	require.NotNil(t, en.Region)
	assert.Equal(t, "Izmir", en.Region.Toponym)
	require.NotNil(t, en.Population)
	assert.Equal(t, int64(4_300_000), *en.Population)
	assert.Len(t, en.Reactors, 1)
	assert.Len(t, en.Imagery, 1)
	assert.False(t, en.ResolvedAt.IsZero())

	assert.InDelta(t, 250, l.radii["reactors"], 1e-9, "reactors are searched within the felt radius")
	assert.InDelta(t, 200, l.radii["imagery"], 1e-9)
	assert.InDelta(t, 4, testutil.ToFloat64(m.EnrichmentLookups.WithLabelValues("toponym", "success"))+
		testutil.ToFloat64(m.EnrichmentLookups.WithLabelValues("population", "success"))+
		testutil.ToFloat64(m.EnrichmentLookups.WithLabelValues("reactors", "success"))+
		testutil.ToFloat64(m.EnrichmentLookups.WithLabelValues("imagery", "success")), 1e-9)
}

func TestEnrich_RetriesThenSucceeds(t *testing.T) {
	l := newFakeLookup(map[string]int{"population": 2})
	r, _ := newTestResolver(l, testConfig())

	en := r.Enrich(context.Background(), testEvent())

	require.NotNil(t, en.Population)
	assert.Equal(t, 3, l.count("population"))
}

func TestEnrich_OmitsUnavailableField(t *testing.T) {
	l := newFakeLookup(map[string]int{"reactors": -1})
	r, m := newTestResolver(l, testConfig())

	en := r.Enrich(context.Background(), testEvent())

	assert.Nil(t, en.Reactors)
	assert.NotNil(t, en.Region)
	assert.NotNil(t, en.Population)
	assert.NotNil(t, en.Imagery)
	assert.Equal(t, 3, l.count("reactors"), "bounded by max attempts")
	assert.InDelta(t, 1, testutil.ToFloat64(m.EnrichmentLookups.WithLabelValues("reactors", "error")), 1e-9)
}

func TestEnrich_Cached(t *testing.T) {
	l := newFakeLookup(nil)
	r, m := newTestResolver(l, testConfig())

	r.Enrich(context.Background(), testEvent())
	r.Enrich(context.Background(), testEvent())

	assert.Equal(t, 1, l.count("toponym"))
	assert.Equal(t, 1, l.count("imagery"))
	assert.InDelta(t, 1, testutil.ToFloat64(m.EnrichmentLookups.WithLabelValues("toponym", "cached")), 1e-9)
}

func TestFetch_ErrorWrapsLookupUnavailable(t *testing.T) {
	l := newFakeLookup(map[string]int{"toponym": -1})
	cfg := testConfig()
	cfg.MaxAttempts = 2
	r, _ := newTestResolver(l, cfg)

	_, err := r.SeaBased(context.Background(), domain.Coordinate{Lat: 38, Lon: 26})
	require.ErrorIs(t, err, domain.ErrLookupUnavailable)
	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, 2, l.count("toponym"))
}

func TestSeaBased(t *testing.T) {
	r, _ := newTestResolver(newFakeLookup(nil), testConfig())

	sea, err := r.SeaBased(context.Background(), domain.Coordinate{Lat: 38, Lon: 26})
	require.NoError(t, err)
	assert.True(t, sea)

	land, err := r.SeaBased(context.Background(), domain.Coordinate{Lat: 38, Lon: 27.5})
	require.NoError(t, err)
	assert.False(t, land)
}

func TestEnrich_CancelledContextStopsRetrying(t *testing.T) {
	l := newFakeLookup(map[string]int{"toponym": -1})
	cfg := testConfig()
	cfg.Backoff = time.Hour
	r, _ := newTestResolver(l, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := r.SeaBased(ctx, domain.Coordinate{Lat: 38, Lon: 26})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, l.count("toponym"))
}

type recordingSink struct {
	mu  sync.Mutex
	got map[string]domain.Enrichment
}

func (s *recordingSink) AttachEnrichment(id string, en domain.Enrichment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got[id] = en
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestDispatcher_DeliversToSink(t *testing.T) {
	r, m := newTestResolver(newFakeLookup(nil), testConfig())
	d := NewDispatcher(r, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), m)
	sink := &recordingSink{got: map[string]domain.Enrichment{}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, sink)
		close(done)
	}()

	ev := testEvent()
	require.True(t, d.Request(ev))
	ev2 := testEvent()
	ev2.ID = "ev-2"
	require.True(t, d.Request(ev2))

	assert.Eventually(t, func() bool { return sink.len() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_RejectsWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	r, m := newTestResolver(newFakeLookup(nil), cfg)
	d := NewDispatcher(r, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), m)

	// Not running, so nothing drains the queue.
	assert.True(t, d.Request(testEvent()))
	assert.False(t, d.Request(testEvent()))
	assert.InDelta(t, 1, testutil.ToFloat64(m.EnrichmentRejected), 1e-9)
}
