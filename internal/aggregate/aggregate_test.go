package aggregate

import (
	"testing"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/config"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestAggregator(t *testing.T) (*Aggregator, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	return New(ConfigFromPolicy(config.DefaultPolicy()), clock), clock
}

func post(id string, at time.Time, c domain.Coordinate, credibility float64) domain.ResolvedObservation {
	return domain.ResolvedObservation{
		Observation: domain.Observation{
			ID:         id,
			SourceKind: domain.SourceUnofficialPost,
			Source:     "posts",
			Account:    "@" + id,
			ReceivedAt: at,
			Text:       "terremoto!",
		},
		Coordinate:    c,
		LocatedBy:     domain.LocationExplicit,
		Credibility:   credibility,
		LanguageMatch: true,
		Intensity:     domain.IntensityStrong,
	}
}

func report(id string, origin time.Time, c domain.Coordinate, mag, depth float64) domain.ResolvedObservation {
	return domain.ResolvedObservation{
		Observation: domain.Observation{
			ID:         id,
			SourceKind: domain.SourceOfficialReport,
			Source:     "agency",
			ReceivedAt: origin.Add(2 * time.Minute),
			Quake: &domain.ExplicitQuake{
				Time:       origin,
				Coordinate: c,
				DepthKm:    depth,
				Magnitude:  mag,
			},
		},
		Coordinate:    c,
		LocatedBy:     domain.LocationExplicit,
		Authoritative: true,
	}
}

var (
	rome   = domain.Coordinate{Lat: 41.9028, Lon: 12.4964}
	nearby = domain.Coordinate{Lat: 41.9350, Lon: 12.5400} // ~5 km from rome
	milan  = domain.Coordinate{Lat: 45.4642, Lon: 9.1900}
)

func TestApply_TwoPostsClusterAndPromote(t *testing.T) {
	a, clock := newTestAggregator(t)

	first, err := a.Apply(post("p1", t0, rome, 0.6))
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.False(t, first.Promoted)
	assert.Equal(t, domain.EventCandidate, first.Event.State)

	clock.Advance(30 * time.Second)
	second, err := a.Apply(post("p2", t0.Add(30*time.Second), nearby, 0.6))
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.True(t, second.Promoted)
	assert.Same(t, first.Event, second.Event)
	assert.Equal(t, domain.EventConfirmed, second.Event.State)
	assert.InDelta(t, 1.2, second.Event.Score, 1e-9)
	assert.Equal(t, []string{"p1", "p2"}, second.Event.Contributors)
	assert.Nil(t, second.Event.Magnitude, "unofficial evidence never yields a magnitude")
	assert.Equal(t, 1, a.Len())
}

func TestApply_CentroidWeightedByCredibility(t *testing.T) {
	a, _ := newTestAggregator(t)

	c1, err := a.Apply(post("p1", t0, domain.Coordinate{Lat: 40, Lon: 10}, 0.3))
	require.NoError(t, err)
	_, err = a.Apply(post("p2", t0, domain.Coordinate{Lat: 40.3, Lon: 10}, 0.6))
	require.NoError(t, err)

	assert.InDelta(t, 40.2, c1.Event.Epicenter.Lat, 1e-9)
	assert.InDelta(t, 0.9, c1.Event.Weight, 1e-9)
}

func TestApply_DistantPostsStaySeparate(t *testing.T) {
	a, _ := newTestAggregator(t)

	_, err := a.Apply(post("p1", t0, rome, 0.4))
	require.NoError(t, err)
	c, err := a.Apply(post("p2", t0, milan, 0.4))
	require.NoError(t, err)

	assert.True(t, c.Created)
	assert.Equal(t, 2, a.Len())
}

func TestApply_UncertaintyGrowsWithElapsedTime(t *testing.T) {
	// ~180 km east of rome: outside the base radius, inside after a few minutes.
	far := domain.Coordinate{Lat: 41.9028, Lon: 14.67}

	t.Run("too far at first", func(t *testing.T) {
		a, _ := newTestAggregator(t)
		_, err := a.Apply(post("p1", t0, rome, 0.4))
		require.NoError(t, err)

		c, err := a.Apply(post("p2", t0, far, 0.4))
		require.NoError(t, err)
		assert.True(t, c.Created)
	})

	t.Run("reachable later", func(t *testing.T) {
		a, clock := newTestAggregator(t)
		first, err := a.Apply(post("p1", t0, rome, 0.4))
		require.NoError(t, err)

		clock.Advance(4 * time.Minute)
		c, err := a.Apply(post("p2", t0.Add(4*time.Minute), far, 0.4))
		require.NoError(t, err)
		assert.False(t, c.Created)
		assert.Same(t, first.Event, c.Event)
	})
}

func TestApply_TieBreakPrefersCloserEvent(t *testing.T) {
	a, _ := newTestAggregator(t)

	west := domain.Coordinate{Lat: 42, Lon: 12}
	east := domain.Coordinate{Lat: 42, Lon: 13.5}
	cw, err := a.Apply(post("w", t0, west, 0.3))
	require.NoError(t, err)
	ce, err := a.Apply(post("e", t0, east, 0.3))
	require.NoError(t, err)
	require.NotSame(t, cw.Event, ce.Event)

	c, err := a.Apply(post("x", t0, domain.Coordinate{Lat: 42, Lon: 13.2}, 0.3))
	require.NoError(t, err)
	assert.Same(t, ce.Event, c.Event)
}

func TestApply_Duplicate(t *testing.T) {
	a, _ := newTestAggregator(t)

	_, err := a.Apply(post("p1", t0, rome, 0.4))
	require.NoError(t, err)
	_, err = a.Apply(post("p1", t0, rome, 0.4))
	require.ErrorIs(t, err, domain.ErrDuplicateObservation)

	ev := a.Events()[0]
	assert.InDelta(t, 0.4, ev.Score, 1e-9)
}

func TestApply_StalePost(t *testing.T) {
	a, clock := newTestAggregator(t)
	clock.Advance(time.Hour)

	_, err := a.Apply(post("p1", t0, rome, 0.4))
	require.ErrorIs(t, err, domain.ErrStaleEvent)
	assert.Zero(t, a.Len())
}

func TestApply_OfficialCreatesConfirmedEvent(t *testing.T) {
	a, clock := newTestAggregator(t)
	clock.Advance(2 * time.Minute)

	c, err := a.Apply(report("r1", t0, rome, 7.2, 10))
	require.NoError(t, err)

	ev := c.Event
	assert.True(t, c.Created)
	assert.Equal(t, domain.EventConfirmed, ev.State)
	assert.True(t, ev.Official)
	assert.GreaterOrEqual(t, ev.Score, 1.0)
	require.NotNil(t, ev.Magnitude)
	assert.InDelta(t, 7.2, *ev.Magnitude, 1e-9)
	assert.Equal(t, t0, ev.OriginTime)
	assert.InDelta(t, domain.FeltRadius(7.2, 10), ev.FeltRadiusKm, 1e-9)
}

func TestApply_OfficialZeroDepthStoredVerbatim(t *testing.T) {
	a, clock := newTestAggregator(t)
	clock.Advance(2 * time.Minute)

	c, err := a.Apply(report("r1", t0, rome, 5.1, 0))
	require.NoError(t, err)

	ev := c.Event
	require.NotNil(t, ev.DepthKm)
	assert.InDelta(t, 0.0, *ev.DepthKm, 1e-12)
	assert.InDelta(t, domain.FeltRadius(5.1, config.DefaultPolicy().DefaultDepthKm), ev.FeltRadiusKm, 1e-9)
}

func TestApply_OfficialAnchorsUnofficialEvent(t *testing.T) {
	a, clock := newTestAggregator(t)

	c, err := a.Apply(post("p1", t0.Add(20*time.Second), nearby, 0.3))
	require.NoError(t, err)
	require.Equal(t, domain.EventCandidate, c.Event.State)
	rev := c.Event.Revision

	clock.Advance(3 * time.Minute)
	r, err := a.Apply(report("r1", t0, rome, 5.1, 12))
	require.NoError(t, err)

	assert.Same(t, c.Event, r.Event)
	assert.True(t, r.Promoted)
	assert.True(t, r.Revised)
	assert.Equal(t, rome, r.Event.Epicenter)
	assert.InDelta(t, 1.3, r.Event.Score, 1e-9)
	assert.Equal(t, rev+1, r.Event.Revision)
	assert.Equal(t, 1, a.Len())
}

func TestApply_OfficialRevision(t *testing.T) {
	a, clock := newTestAggregator(t)
	clock.Advance(2 * time.Minute)

	first, err := a.Apply(report("r1", t0, rome, 5.0, 10))
	require.NoError(t, err)

	small, err := a.Apply(report("r2", t0, rome, 5.2, 10))
	require.NoError(t, err)
	assert.False(t, small.Revised, "within magnitude tolerance")
	assert.Equal(t, first.Event.Revision, small.Event.Revision)
	assert.InDelta(t, 5.2, *small.Event.Magnitude, 1e-9)

	big, err := a.Apply(report("r3", t0.Add(10*time.Second), rome, 6.5, 10))
	require.NoError(t, err)
	assert.True(t, big.Revised)
	assert.False(t, big.Created)
	assert.Equal(t, first.Event.ID, big.Event.ID)
	assert.Equal(t, 2, big.Event.Revision)
	assert.InDelta(t, 6.5, *big.Event.Magnitude, 1e-9)
	assert.Equal(t, 1, a.Len())
}

func TestApply_OfficialAlertLevelChangeRevises(t *testing.T) {
	a, clock := newTestAggregator(t)
	clock.Advance(2 * time.Minute)

	_, err := a.Apply(report("r1", t0, rome, 6.0, 10))
	require.NoError(t, err)

	upd := report("r2", t0, rome, 6.0, 10)
	upd.AlertLevel = domain.AlertAmber
	c, err := a.Apply(upd)
	require.NoError(t, err)
	assert.True(t, c.Revised)
	assert.Equal(t, domain.AlertAmber, c.Event.AlertLevel)
}

func TestApply_OfficialValidation(t *testing.T) {
	a, clock := newTestAggregator(t)

	noQuake := report("r1", t0, rome, 5, 10)
	noQuake.Quake = nil
	_, err := a.Apply(noQuake)
	require.ErrorIs(t, err, domain.ErrMalformedExplicitQuake)

	clock.Advance(72 * time.Hour)
	_, err = a.Apply(report("r2", t0, rome, 5, 10))
	require.ErrorIs(t, err, domain.ErrStaleEvent)
}

func TestApply_Retraction(t *testing.T) {
	a, clock := newTestAggregator(t)
	clock.Advance(2 * time.Minute)

	created, err := a.Apply(report("r1", t0, rome, 5.0, 10))
	require.NoError(t, err)

	retract := report("r2", t0, rome, 5.0, 10)
	retract.Retraction = true
	c, err := a.Apply(retract)
	require.NoError(t, err)
	assert.True(t, c.Retracted)
	assert.Equal(t, domain.EventRetracted, created.Event.State)
	assert.False(t, created.Event.Live())

	// A retracted event takes no further evidence.
	next, err := a.Apply(post("p1", t0.Add(2*time.Minute), rome, 0.5))
	require.NoError(t, err)
	assert.True(t, next.Created)
}

func TestApply_RetractionWithoutEvent(t *testing.T) {
	a, clock := newTestAggregator(t)
	clock.Advance(2 * time.Minute)

	retract := report("r1", t0, rome, 5.0, 10)
	retract.Retraction = true
	_, err := a.Apply(retract)
	require.ErrorIs(t, err, domain.ErrStaleEvent)
	assert.Zero(t, a.Len())
}

func TestSweep(t *testing.T) {
	a, clock := newTestAggregator(t)

	cand, err := a.Apply(post("p1", t0, rome, 0.3))
	require.NoError(t, err)
	conf, err := a.Apply(report("r1", t0, milan, 5.0, 10))
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	removed := a.Sweep()
	assert.Equal(t, []string{cand.Event.ID}, removed)
	require.Equal(t, 1, a.Len())
	assert.Same(t, conf.Event, a.Get(conf.Event.ID))

	clock.Advance(6 * time.Hour)
	assert.Equal(t, []string{conf.Event.ID}, a.Sweep())
	assert.Zero(t, a.Len())
	assert.Nil(t, a.Get(conf.Event.ID))
}
