// Package enrich attaches read-only context (region, population, reactors,
// imagery) to confirmed events without blocking the aggregation loop.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/config"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Lookup is the externally owned, read-only lookup capability.
type Lookup interface {
	ResolveToponym(ctx context.Context, c domain.Coordinate) (domain.Region, error)
	PopulationNear(ctx context.Context, c domain.Coordinate, radiusKm float64) (int64, error)
	ReactorsNear(ctx context.Context, c domain.Coordinate, radiusKm float64) ([]domain.Facility, error)
	ImageryNear(ctx context.Context, c domain.Coordinate, radiusKm float64) ([]domain.ImagerySource, error)
}

// Config holds the enrichment policy.
type Config struct {
	Workers               int
	QueueSize             int
	MaxAttempts           int
	Backoff               time.Duration
	RatePerSecond         float64
	CacheTTL              time.Duration
	LookupTimeout         time.Duration
	ImageryRadiusFraction float64
}

// ConfigFromPolicy extracts the enrichment settings from the policy.
func ConfigFromPolicy(p config.Policy, queueSize int) Config {
	return Config{
		Workers:               p.EnrichmentWorkers,
		QueueSize:             queueSize,
		MaxAttempts:           p.EnrichmentMaxAttempts,
		Backoff:               p.EnrichmentBackoff,
		RatePerSecond:         p.EnrichmentRatePerSecond,
		CacheTTL:              p.EnrichmentCacheTTL,
		LookupTimeout:         p.EnrichmentLookupTimeout,
		ImageryRadiusFraction: p.ImageryRadiusFraction,
	}
}

// Resolver runs lookups with a shared rate limit, a TTL cache and bounded
// retries. A lookup that keeps failing is reported as
// domain.ErrLookupUnavailable and its field is omitted.
type Resolver struct {
	lookup  Lookup
	cfg     Config
	cache   *gocache.Cache
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewResolver creates a Resolver.
func NewResolver(lookup Lookup, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	limit, burst := rate.Inf, 1
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = max(1, int(cfg.RatePerSecond))
	}
	return &Resolver{
		lookup:  lookup,
		cfg:     cfg,
		cache:   gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		metrics: metrics,
	}
}

// Enrich resolves every enrichment field for ev. It never fails; fields
// whose lookup was unavailable are left nil.
func (r *Resolver) Enrich(ctx context.Context, ev domain.Event) domain.Enrichment {
	c := ev.Epicenter
	radius := ev.FeltRadiusKm
	en := domain.Enrichment{}

	if region, err := fetch(ctx, r, "toponym", key(c, 0), func(ctx context.Context) (domain.Region, error) {
		return r.lookup.ResolveToponym(ctx, c)
	}); err == nil {
		en.Region = &region
	} else {
		r.omit(ev.ID, err)
	}

	if pop, err := fetch(ctx, r, "population", key(c, radius), func(ctx context.Context) (int64, error) {
		return r.lookup.PopulationNear(ctx, c, radius)
	}); err == nil {
		en.Population = &pop
	} else {
		r.omit(ev.ID, err)
	}

	if reactors, err := fetch(ctx, r, "reactors", key(c, radius), func(ctx context.Context) ([]domain.Facility, error) {
		return r.lookup.ReactorsNear(ctx, c, radius)
	}); err == nil {
		en.Reactors = reactors
	} else {
		r.omit(ev.ID, err)
	}

	imageryRadius := radius * r.cfg.ImageryRadiusFraction
	if imagery, err := fetch(ctx, r, "imagery", key(c, imageryRadius), func(ctx context.Context) ([]domain.ImagerySource, error) {
		return r.lookup.ImageryNear(ctx, c, imageryRadius)
	}); err == nil {
		en.Imagery = imagery
	} else {
		r.omit(ev.ID, err)
	}

	en.ResolvedAt = domain.Now()
	return en
}

// SeaBased reports whether c lies offshore.
func (r *Resolver) SeaBased(ctx context.Context, c domain.Coordinate) (bool, error) {
	region, err := fetch(ctx, r, "toponym", key(c, 0), func(ctx context.Context) (domain.Region, error) {
		return r.lookup.ResolveToponym(ctx, c)
	})
	if err != nil {
		return false, err
	}
	return region.Sea, nil
}

func (r *Resolver) omit(eventID string, err error) {
	r.logger.Warn("enrichment field omitted", "event_id", eventID, "error", err)
}

// fetch serves name from the cache or calls fn, retrying with doubling
// backoff until the attempt budget runs out.
func fetch[T any](ctx context.Context, r *Resolver, name, k string, fn func(context.Context) (T, error)) (T, error) {
	ck := name + "|" + k
	if v, ok := r.cache.Get(ck); ok {
		r.metrics.EnrichmentLookups.WithLabelValues(name, "cached").Inc()
		return v.(T), nil
	}

	var (
		zero    T
		lastErr error
	)
	backoff := r.cfg.Backoff
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		v, err := call(ctx, r.cfg.LookupTimeout, fn)
		if err == nil {
			r.cache.SetDefault(ck, v)
			r.metrics.EnrichmentLookups.WithLabelValues(name, "success").Inc()
			return v, nil
		}
		lastErr = err
		r.logger.Debug("enrichment lookup failed", "lookup", name, "attempt", attempt, "error", err)
		if attempt == r.cfg.MaxAttempts {
			break
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		backoff *= 2
	}

	r.metrics.EnrichmentLookups.WithLabelValues(name, "error").Inc()
	return zero, fmt.Errorf("%s lookup: %w: %w", name, domain.ErrLookupUnavailable, lastErr)
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// key rounds the coordinate to about a kilometre so nearby revisions share
// cache entries.
func key(c domain.Coordinate, radiusKm float64) string {
	return strconv.FormatFloat(c.Lat, 'f', 2, 64) + "," +
		strconv.FormatFloat(c.Lon, 'f', 2, 64) + "," +
		strconv.FormatFloat(math.Round(radiusKm), 'f', 0, 64)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
