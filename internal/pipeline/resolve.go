package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/credibility"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// Normalizer parses a raw record into an observation.
type Normalizer interface {
	Normalize(ctx context.Context, raw domain.RawEvent) (domain.Observation, error)
}

// Locator resolves an observation's location signals.
type Locator interface {
	Locate(ctx context.Context, obs domain.Observation) (domain.Resolution, error)
}

// SeaClassifier reports whether a coordinate lies offshore.
type SeaClassifier interface {
	SeaBased(ctx context.Context, c domain.Coordinate) (bool, error)
}

// ObservationResolver normalizes, geolocates and scores raw records. It
// holds no mutable state and is safe to call from every source worker.
type ObservationResolver struct {
	normalizer     Normalizer
	locator        Locator
	scorer         *credibility.Scorer
	sea            SeaClassifier
	maxEventAge    time.Duration
	defaultDepthKm float64
	logger         *slog.Logger
}

// NewObservationResolver creates an ObservationResolver. Pass a nil sea
// classifier to treat every epicenter as onshore.
func NewObservationResolver(
	n Normalizer,
	l Locator,
	scorer *credibility.Scorer,
	sea SeaClassifier,
	maxEventAge time.Duration,
	defaultDepthKm float64,
	logger *slog.Logger,
) *ObservationResolver {
	return &ObservationResolver{
		normalizer:     n,
		locator:        l,
		scorer:         scorer,
		sea:            sea,
		maxEventAge:    maxEventAge,
		defaultDepthKm: defaultDepthKm,
		logger:         logger,
	}
}

// Resolve turns raw into a ResolvedObservation ready for aggregation.
func (r *ObservationResolver) Resolve(ctx context.Context, raw domain.RawEvent) (domain.ResolvedObservation, error) {
	obs, err := r.normalizer.Normalize(ctx, raw)
	if err != nil {
		return domain.ResolvedObservation{}, err
	}

	switch {
	case obs.SourceKind == domain.SourceOfficialReport:
		return r.authoritative(ctx, obs)
	case r.scorer.Monitored(obs.Account):
		return r.bulletin(ctx, obs)
	default:
		return r.unofficial(ctx, obs)
	}
}

func (r *ObservationResolver) unofficial(ctx context.Context, obs domain.Observation) (domain.ResolvedObservation, error) {
	res, err := r.locator.Locate(ctx, obs)
	if err != nil {
		return domain.ResolvedObservation{}, err
	}
	a, err := r.scorer.Score(obs, res.Confidence)
	if err != nil {
		return domain.ResolvedObservation{}, err
	}
	return domain.ResolvedObservation{
		Observation:   obs,
		Coordinate:    res.Coordinate,
		Toponym:       res.Toponym,
		Region:        res.Region,
		LocatedBy:     res.Source,
		Credibility:   a.Score,
		LanguageMatch: a.LanguageMatch,
		Intensity:     a.Intensity,
	}, nil
}

// bulletin parses a monitored account's post and treats it like an official
// report.
func (r *ObservationResolver) bulletin(ctx context.Context, obs domain.Observation) (domain.ResolvedObservation, error) {
	b, err := r.scorer.ExtractQuake(obs, domain.Now(), r.maxEventAge, r.defaultDepthKm)
	if err != nil {
		return domain.ResolvedObservation{}, err
	}
	if b.Area != "" {
		res, err := r.locator.Locate(ctx, domain.Observation{
			ID:       obs.ID,
			Location: domain.Location{Profile: b.Area},
		})
		if err != nil {
			return domain.ResolvedObservation{}, fmt.Errorf("bulletin area %q: %w", b.Area, err)
		}
		b.Quake.Coordinate = res.Coordinate
	}

	q := b.Quake
	obs.Quake = &q
	obs.ClaimedTime = &q.Time
	obs.Location = domain.Location{Explicit: &q.Coordinate}
	return r.authoritative(ctx, obs)
}

func (r *ObservationResolver) authoritative(ctx context.Context, obs domain.Observation) (domain.ResolvedObservation, error) {
	if obs.Quake == nil {
		return domain.ResolvedObservation{}, fmt.Errorf("report %s: %w", obs.ID, domain.ErrMalformedExplicitQuake)
	}
	res, err := r.locator.Locate(ctx, obs)
	if err != nil {
		return domain.ResolvedObservation{}, err
	}

	out := domain.ResolvedObservation{
		Observation:   obs,
		Coordinate:    res.Coordinate,
		Toponym:       res.Toponym,
		Region:        res.Region,
		LocatedBy:     res.Source,
		Credibility:   1,
		LanguageMatch: true,
		Authoritative: true,
	}
	if r.sea != nil {
		sea, err := r.sea.SeaBased(ctx, obs.Quake.Coordinate)
		if err != nil {
			r.logger.Warn("sea classification unavailable", "observation_id", obs.ID, "error", err)
		}
		out.SeaBased = sea
	}
	return out, nil
}
