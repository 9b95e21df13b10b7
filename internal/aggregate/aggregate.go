// Package aggregate clusters resolved observations into events.
//
// The Aggregator owns the event set and is not safe for concurrent use; the
// engine serializes every call.
package aggregate

import (
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/config"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	gocache "github.com/patrickmn/go-cache"
)

// Config holds the clustering policy.
type Config struct {
	PromotionThreshold  float64
	DistanceToleranceKm float64
	TimeTolerance       time.Duration
	MagnitudeDeviation  float64
	DepthDeviationKm    float64
	LocationDeviationKm float64
	Uncertainty         Uncertainty
	ClusterWindow       time.Duration
	ReactionLatency     time.Duration
	DefaultDepthKm      float64
	InactivityHorizon   time.Duration
	ConfirmedRetention  time.Duration
	MaxEventAge         time.Duration
	DedupTTL            time.Duration
}

// ConfigFromPolicy extracts the aggregation settings from the policy.
func ConfigFromPolicy(p config.Policy) Config {
	return Config{
		PromotionThreshold:  p.PromotionThreshold,
		DistanceToleranceKm: p.OfficialDistanceToleranceKm,
		TimeTolerance:       p.OfficialTimeTolerance,
		MagnitudeDeviation:  p.MagnitudeDeviation,
		DepthDeviationKm:    p.DepthDeviationKm,
		LocationDeviationKm: p.LocationDeviationKm,
		Uncertainty: Uncertainty{
			BaseKm:       p.ClusterBaseRadiusKm,
			GrowthPerMin: p.ClusterGrowthKmPerMinute,
			MaxKm:        p.ClusterMaxRadiusKm,
		},
		ClusterWindow:      p.ClusterWindow,
		ReactionLatency:    p.ReactionLatency,
		DefaultDepthKm:     p.DefaultDepthKm,
		InactivityHorizon:  p.InactivityHorizon,
		ConfirmedRetention: p.ConfirmedRetention,
		MaxEventAge:        p.MaxEventAge,
		DedupTTL:           p.DedupTTL,
	}
}

// Change describes what one Apply did to the event set.
type Change struct {
	Event     *domain.Event
	Created   bool
	Promoted  bool // Candidate -> Confirmed
	Revised   bool // authoritative parameters moved beyond tolerance
	Retracted bool
}

// Aggregator owns the event set.
type Aggregator struct {
	cfg    Config
	clock  clockwork.Clock
	events []*domain.Event // creation order
	seen   *gocache.Cache
}

// New creates an Aggregator.
func New(cfg Config, clock clockwork.Clock) *Aggregator {
	if cfg.DefaultDepthKm <= 0 {
		cfg.DefaultDepthKm = domain.DefaultDepthKm
	}
	return &Aggregator{
		cfg:   cfg,
		clock: clock,
		seen:  gocache.New(cfg.DedupTTL, cfg.DedupTTL),
	}
}

// Apply merges one resolved observation into the event set. Errors mean the
// observation was dropped; the event set is unchanged.
func (a *Aggregator) Apply(obs domain.ResolvedObservation) (Change, error) {
	if _, dup := a.seen.Get(obs.ID); dup {
		return Change{}, fmt.Errorf("apply %s: %w", obs.ID, domain.ErrDuplicateObservation)
	}

	now := a.clock.Now()
	var (
		change Change
		err    error
	)
	if obs.Authoritative {
		change, err = a.applyOfficial(obs, now)
	} else {
		change, err = a.applyUnofficial(obs, now)
	}
	if err != nil {
		return Change{}, err
	}

	a.seen.SetDefault(obs.ID, struct{}{})
	return change, nil
}

func (a *Aggregator) applyOfficial(obs domain.ResolvedObservation, now time.Time) (Change, error) {
	q := obs.Quake
	if q == nil {
		return Change{}, fmt.Errorf("apply %s: authoritative observation without quake parameters: %w",
			obs.ID, domain.ErrMalformedExplicitQuake)
	}
	if now.Sub(q.Time) > a.cfg.MaxEventAge {
		return Change{}, fmt.Errorf("apply %s: origin %s is older than %s: %w",
			obs.ID, q.Time, a.cfg.MaxEventAge, domain.ErrStaleEvent)
	}

	ev := a.matchOfficial(*q)

	if obs.Retraction {
		if ev == nil {
			return Change{}, fmt.Errorf("apply %s: no event to retract: %w", obs.ID, domain.ErrStaleEvent)
		}
		ev.State = domain.EventRetracted
		ev.Revision++
		a.contribute(ev, obs, now)
		return Change{Event: ev, Retracted: true, Revised: true}, nil
	}

	if ev == nil {
		ev = a.newEvent(obs, now)
		ev.State = domain.EventConfirmed
		ev.Official = true
		ev.Score = 1
		a.setOfficialParameters(ev, obs)
		a.events = append(a.events, ev)
		return Change{Event: ev, Created: true}, nil
	}

	revised := !ev.Official || a.deviates(ev, obs)
	if !ev.Official {
		ev.Score++
		ev.Official = true
	}
	a.setOfficialParameters(ev, obs)
	a.contribute(ev, obs, now)
	if revised {
		ev.Revision++
	}

	change := Change{Event: ev, Revised: revised}
	if ev.State == domain.EventCandidate {
		ev.State = domain.EventConfirmed
		change.Promoted = true
	}
	return change, nil
}

// matchOfficial finds the live event whose origin and epicenter are
// compatible with q, preferring the lowest normalized distance+time cost.
func (a *Aggregator) matchOfficial(q domain.ExplicitQuake) *domain.Event {
	var (
		best     *domain.Event
		bestCost = math.Inf(1)
	)
	for _, ev := range a.events {
		if !ev.Live() {
			continue
		}
		d := domain.DistanceKm(ev.Epicenter, q.Coordinate)
		dt := absDuration(q.Time.Sub(ev.OriginTime))
		if d > a.cfg.DistanceToleranceKm || dt > a.cfg.TimeTolerance {
			continue
		}
		cost := d/a.cfg.DistanceToleranceKm + dt.Seconds()/a.cfg.TimeTolerance.Seconds()
		if cost < bestCost {
			best, bestCost = ev, cost
		}
	}
	return best
}

// deviates reports whether an authoritative update differs materially from
// the event's current authoritative estimate.
func (a *Aggregator) deviates(ev *domain.Event, obs domain.ResolvedObservation) bool {
	q := obs.Quake
	switch {
	case ev.Magnitude == nil || math.Abs(q.Magnitude-*ev.Magnitude) > a.cfg.MagnitudeDeviation:
		return true
	case math.Abs(q.DepthKm-ev.Depth()) > a.cfg.DepthDeviationKm:
		return true
	case domain.DistanceKm(ev.Epicenter, q.Coordinate) > a.cfg.LocationDeviationKm:
		return true
	case obs.AlertLevel != domain.AlertNone && obs.AlertLevel != ev.AlertLevel:
		return true
	}
	return false
}

// setOfficialParameters copies authoritative numbers verbatim.
func (a *Aggregator) setOfficialParameters(ev *domain.Event, obs domain.ResolvedObservation) {
	q := obs.Quake
	mag := q.Magnitude
	depth := q.DepthKm
	ev.Epicenter = q.Coordinate
	ev.OriginTime = q.Time
	ev.Magnitude = &mag
	ev.DepthKm = &depth
	ev.FeltRadiusKm = domain.FeltRadius(mag, a.effectiveDepth(depth))
	ev.SeaBased = obs.SeaBased
	ev.TsunamiFlag = ev.TsunamiFlag || obs.TsunamiFlag
	if q.Time.Before(ev.FirstEvidenceAt) {
		ev.FirstEvidenceAt = q.Time
	}
	if obs.AlertLevel != domain.AlertNone {
		ev.AlertLevel = obs.AlertLevel
	}
	if obs.Toponym != "" {
		ev.Toponym = obs.Toponym
	}
	if obs.Region != "" {
		ev.Region = obs.Region
	}
}

// effectiveDepth substitutes the configured default for surface reports in
// radius estimates only.
func (a *Aggregator) effectiveDepth(depthKm float64) float64 {
	if depthKm <= 0 {
		return a.cfg.DefaultDepthKm
	}
	return depthKm
}

func (a *Aggregator) applyUnofficial(obs domain.ResolvedObservation, now time.Time) (Change, error) {
	if obs.Credibility <= 0 {
		return Change{}, fmt.Errorf("apply %s: non-positive credibility %.3f: %w",
			obs.ID, obs.Credibility, domain.ErrLanguageMismatch)
	}
	t := obs.EvidenceTime()
	if now.Sub(t) > a.cfg.ClusterWindow {
		return Change{}, fmt.Errorf("apply %s: evidence from %s is older than the cluster window: %w",
			obs.ID, t, domain.ErrStaleEvent)
	}

	ev := a.matchUnofficial(obs.Coordinate, t)
	if ev == nil {
		ev = a.newEvent(obs, now)
		ev.State = domain.EventCandidate
		ev.Epicenter = obs.Coordinate
		ev.OriginTime = t.Add(-a.cfg.ReactionLatency)
		ev.Score = obs.Credibility
		ev.Weight = obs.Credibility
		ev.MaxIntensity = obs.Intensity
		ev.FeltRadiusKm = domain.FeltRadius(obs.Intensity.MagnitudeGuess(), a.cfg.DefaultDepthKm)
		a.events = append(a.events, ev)
		return Change{Event: ev, Created: true, Promoted: a.promote(ev)}, nil
	}

	if !ev.Official {
		ev.Epicenter = domain.WeightedCentroid(ev.Epicenter, ev.Weight, obs.Coordinate, obs.Credibility)
		ev.Weight += obs.Credibility
		if t.Before(ev.FirstEvidenceAt) {
			ev.FirstEvidenceAt = t
			ev.OriginTime = t.Add(-a.cfg.ReactionLatency)
		}
		ev.MaxIntensity = max(ev.MaxIntensity, obs.Intensity)
		ev.WitnessSpreadKm = max(ev.WitnessSpreadKm, domain.DistanceKm(ev.Epicenter, obs.Coordinate))
		ev.FeltRadiusKm = math.Min(domain.MaxFeltRadiusKm, math.Max(
			domain.FeltRadius(ev.MaxIntensity.MagnitudeGuess(), a.cfg.DefaultDepthKm),
			ev.WitnessSpreadKm,
		))
		if ev.Toponym == "" {
			ev.Toponym, ev.Region = obs.Toponym, obs.Region
		}
	}
	ev.Score += obs.Credibility
	a.contribute(ev, obs, now)

	return Change{Event: ev, Promoted: a.promote(ev)}, nil
}

// matchUnofficial finds the live event whose growing uncertainty radius
// contains c at time t. Ties go to the event with the lowest combined
// distance and time cost, then to the oldest event.
func (a *Aggregator) matchUnofficial(c domain.Coordinate, t time.Time) *domain.Event {
	var (
		best     *domain.Event
		bestCost = math.Inf(1)
	)
	for _, ev := range a.events {
		if !ev.Live() {
			continue
		}
		elapsed := t.Sub(ev.OriginTime)
		if absDuration(elapsed) > a.cfg.ClusterWindow {
			continue
		}
		r := a.cfg.Uncertainty.Radius(elapsed)
		d := domain.DistanceKm(ev.Epicenter, c)
		if d > r {
			continue
		}
		cost := d/r + absDuration(elapsed).Seconds()/a.cfg.ClusterWindow.Seconds()
		if cost < bestCost {
			best, bestCost = ev, cost
		}
	}
	return best
}

func (a *Aggregator) promote(ev *domain.Event) bool {
	if ev.State != domain.EventCandidate || ev.Score < a.cfg.PromotionThreshold {
		return false
	}
	ev.State = domain.EventConfirmed
	return true
}

func (a *Aggregator) newEvent(obs domain.ResolvedObservation, now time.Time) *domain.Event {
	ev := &domain.Event{
		ID:              uuid.NewString(),
		FirstEvidenceAt: obs.EvidenceTime(),
		CreatedAt:       now,
		Toponym:         obs.Toponym,
		Region:          obs.Region,
		Revision:        1,
	}
	a.contribute(ev, obs, now)
	return ev
}

func (a *Aggregator) contribute(ev *domain.Event, obs domain.ResolvedObservation, now time.Time) {
	ev.Contributors = append(ev.Contributors, obs.ID)
	source := obs.Source
	if source == "" {
		source = obs.Account
	}
	ev.AddSource(source)
	ev.LastEvidenceAt = now
}

// Sweep removes events without new evidence for longer than their horizon
// and returns their ids. Candidates expire after the inactivity horizon,
// confirmed and retracted events after the retention period.
func (a *Aggregator) Sweep() []string {
	now := a.clock.Now()
	var removed []string
	kept := a.events[:0]
	for _, ev := range a.events {
		horizon := a.cfg.ConfirmedRetention
		if ev.State == domain.EventCandidate {
			horizon = a.cfg.InactivityHorizon
		}
		if now.Sub(ev.LastEvidenceAt) > horizon {
			removed = append(removed, ev.ID)
			continue
		}
		kept = append(kept, ev)
	}
	clear(a.events[len(kept):])
	a.events = kept
	return removed
}

// Events returns the live event pointers in creation order. Callers must hold
// the same serialization as Apply.
func (a *Aggregator) Events() []*domain.Event {
	out := make([]*domain.Event, len(a.events))
	copy(out, a.events)
	return out
}

// Get returns the event with id, or nil.
func (a *Aggregator) Get(id string) *domain.Event {
	for _, ev := range a.events {
		if ev.ID == id {
			return ev
		}
	}
	return nil
}

// Len returns the number of events held.
func (a *Aggregator) Len() int {
	return len(a.events)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
