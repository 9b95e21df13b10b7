package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Policy holds the tunable thresholds of the detection engine. Defaults are
// operating starting points, not validated seismological constants.
type Policy struct {
	// Aggregation.
	PromotionThreshold          float64       `env:"PROMOTION_THRESHOLD" envDefault:"1.0"`
	OfficialDistanceToleranceKm float64       `env:"OFFICIAL_DISTANCE_TOLERANCE_KM" envDefault:"300"`
	OfficialTimeTolerance       time.Duration `env:"OFFICIAL_TIME_TOLERANCE" envDefault:"5m"`
	MagnitudeDeviation          float64       `env:"MAGNITUDE_DEVIATION" envDefault:"0.5"`
	DepthDeviationKm            float64       `env:"DEPTH_DEVIATION_KM" envDefault:"30"`
	LocationDeviationKm         float64       `env:"LOCATION_DEVIATION_KM" envDefault:"50"`
	ClusterBaseRadiusKm         float64       `env:"CLUSTER_BASE_RADIUS_KM" envDefault:"100"`
	ClusterGrowthKmPerMinute    float64       `env:"CLUSTER_GROWTH_KM_PER_MINUTE" envDefault:"40"`
	ClusterMaxRadiusKm          float64       `env:"CLUSTER_MAX_RADIUS_KM" envDefault:"600"`
	ClusterWindow               time.Duration `env:"CLUSTER_WINDOW" envDefault:"10m"`
	InactivityHorizon           time.Duration `env:"INACTIVITY_HORIZON" envDefault:"30m"`
	ConfirmedRetention          time.Duration `env:"CONFIRMED_RETENTION" envDefault:"6h"`
	MaxEventAge                 time.Duration `env:"MAX_EVENT_AGE" envDefault:"48h"`
	DedupTTL                    time.Duration `env:"DEDUP_TTL" envDefault:"12h"`

	// Classification.
	ReactionLatency        time.Duration `env:"REACTION_LATENCY" envDefault:"20s"`
	SWaveSpeedKmS          float64       `env:"S_WAVE_SPEED_KM_S" envDefault:"3.5"`
	DefaultDepthKm         float64       `env:"DEFAULT_DEPTH_KM" envDefault:"10"`
	WarningMagnitude       float64       `env:"WARNING_MAGNITUDE" envDefault:"5.5"`
	WarningAreaFraction    float64       `env:"WARNING_AREA_FRACTION" envDefault:"0.5"`
	TsunamiMinMagnitude    float64       `env:"TSUNAMI_MIN_MAGNITUDE" envDefault:"7.0"`
	TsunamiMaxDepthKm      float64       `env:"TSUNAMI_MAX_DEPTH_KM" envDefault:"100"`
	PersonalLeadWindow     time.Duration `env:"PERSONAL_LEAD_WINDOW" envDefault:"60s"`
	PersonalTrailingWindow time.Duration `env:"PERSONAL_TRAILING_WINDOW" envDefault:"120s"`

	// Scoring.
	ScoreBaseline float64 `env:"SCORE_BASELINE" envDefault:"0.2"`
	ScoreFloor    float64 `env:"SCORE_FLOOR" envDefault:"0.01"`

	// Enrichment.
	EnrichmentWorkers       int           `env:"ENRICHMENT_WORKERS" envDefault:"4"`
	EnrichmentMaxAttempts   int           `env:"ENRICHMENT_MAX_ATTEMPTS" envDefault:"3"`
	EnrichmentBackoff       time.Duration `env:"ENRICHMENT_BACKOFF" envDefault:"200ms"`
	EnrichmentRatePerSecond float64       `env:"ENRICHMENT_RATE_PER_SECOND" envDefault:"10"`
	EnrichmentCacheTTL      time.Duration `env:"ENRICHMENT_CACHE_TTL" envDefault:"10m"`
	EnrichmentLookupTimeout time.Duration `env:"ENRICHMENT_LOOKUP_TIMEOUT" envDefault:"3s"`
	ImageryRadiusFraction   float64       `env:"IMAGERY_RADIUS_FRACTION" envDefault:"0.8"`

	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"5s"`
}

// LoadPolicy parses the policy from the environment.
func LoadPolicy() (Policy, error) {
	var p Policy
	if err := env.Parse(&p); err != nil {
		return Policy{}, fmt.Errorf("parse env: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// DefaultPolicy returns the policy with every default applied.
func DefaultPolicy() Policy {
	var p Policy
	// Parsing an empty environment only applies envDefault tags.
	_ = env.ParseWithOptions(&p, env.Options{Environment: map[string]string{}})
	return p
}

// Validate rejects values the engine cannot operate with.
func (p Policy) Validate() error {
	switch {
	case p.PromotionThreshold <= 0:
		return errors.New("PROMOTION_THRESHOLD must be positive")
	case p.SWaveSpeedKmS <= 0:
		return errors.New("S_WAVE_SPEED_KM_S must be positive")
	case p.ClusterBaseRadiusKm <= 0 || p.ClusterMaxRadiusKm < p.ClusterBaseRadiusKm:
		return errors.New("CLUSTER_MAX_RADIUS_KM must be at least CLUSTER_BASE_RADIUS_KM, both positive")
	case p.ClusterWindow <= 0:
		return errors.New("CLUSTER_WINDOW must be positive")
	case p.OfficialDistanceToleranceKm <= 0 || p.OfficialTimeTolerance <= 0:
		return errors.New("OFFICIAL_DISTANCE_TOLERANCE_KM and OFFICIAL_TIME_TOLERANCE must be positive")
	case p.WarningAreaFraction < 0 || p.WarningAreaFraction > 1:
		return errors.New("WARNING_AREA_FRACTION must be within [0, 1]")
	case p.ScoreFloor <= 0:
		return errors.New("SCORE_FLOOR must be positive")
	case p.EnrichmentMaxAttempts < 1:
		return errors.New("ENRICHMENT_MAX_ATTEMPTS must be at least 1")
	case p.EnrichmentWorkers < 1:
		return errors.New("ENRICHMENT_WORKERS must be at least 1")
	case p.TickInterval <= 0:
		return errors.New("TICK_INTERVAL must be positive")
	}
	return nil
}
