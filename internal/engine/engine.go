// Package engine serializes aggregation, classification and emission over
// the shared event set.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/aggregate"
	"github.com/couchcryptid/quake-alert-service/internal/classify"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/emit"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Enricher accepts asynchronous enrichment requests. Request must not block.
type Enricher interface {
	Request(ev domain.Event) bool
}

// Engine owns the event set. Every exported method holds the same lock for
// its full aggregate-classify-emit sequence.
type Engine struct {
	mu         sync.Mutex
	aggregator *aggregate.Aggregator
	classifier *classify.Classifier
	emitter    *emit.Emitter
	enricher   Enricher
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New creates an Engine. enricher may be nil.
func New(
	aggregator *aggregate.Aggregator,
	classifier *classify.Classifier,
	emitter *emit.Emitter,
	enricher Enricher,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		aggregator: aggregator,
		classifier: classifier,
		emitter:    emitter,
		enricher:   enricher,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// Process applies one resolved observation and returns the notifications it
// triggered. An error means the observation was dropped; the reason is
// recorded and the event set is unchanged.
func (e *Engine) Process(obs domain.ResolvedObservation) ([]domain.Notification, error) {
	start := time.Now()
	e.mu.Lock()
	defer func() {
		e.mu.Unlock()
		e.metrics.EngineProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	change, err := e.aggregator.Apply(obs)
	if err != nil {
		reason := domain.DropReason(err)
		e.metrics.ObservationsDropped.WithLabelValues(reason).Inc()
		e.logger.Info("observation dropped", "observation_id", obs.ID, "reason", reason, "error", err)
		return nil, err
	}
	e.metrics.ObservationsApplied.Inc()
	e.recordChange(obs, change)

	out := e.step(change.Event, e.clock.Now())
	e.metrics.EventsLive.Set(float64(e.aggregator.Len()))
	return out, nil
}

// Tick collects expired events and re-evaluates the live ones, which lets
// warnings and personalized alerts follow the advancing wave front without
// new evidence.
func (e *Engine) Tick() []domain.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range e.aggregator.Sweep() {
		e.emitter.Forget(id)
		e.metrics.EventTransitions.WithLabelValues("collected").Inc()
		e.logger.Debug("event collected", "event_id", id)
	}

	now := e.clock.Now()
	var out []domain.Notification
	for _, ev := range e.aggregator.Events() {
		out = append(out, e.step(ev, now)...)
	}
	e.metrics.EventsLive.Set(float64(e.aggregator.Len()))
	return out
}

// AttachEnrichment stores a finished enrichment on the event, if it still
// exists. It does not emit; later notifications carry the new fields.
func (e *Engine) AttachEnrichment(eventID string, en domain.Enrichment) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev := e.aggregator.Get(eventID)
	if ev == nil {
		return
	}
	ev.Enrichment = &en
	if en.Region != nil {
		if ev.Toponym == "" {
			ev.Toponym = en.Region.Toponym
		}
		if ev.Region == "" {
			ev.Region = en.Region.Name
		}
	}
	e.logger.Debug("enrichment attached", "event_id", eventID)
}

// Events returns copies of every held event in creation order.
func (e *Engine) Events() []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	held := e.aggregator.Events()
	out := make([]domain.Event, len(held))
	for i, ev := range held {
		out[i] = ev.Clone()
	}
	return out
}

// Event returns a copy of the event with id.
func (e *Engine) Event(id string) (domain.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev := e.aggregator.Get(id)
	if ev == nil {
		return domain.Event{}, false
	}
	return ev.Clone(), true
}

func (e *Engine) step(ev *domain.Event, now time.Time) []domain.Notification {
	d := e.classifier.Classify(ev, now)
	if d.Raised {
		e.metrics.EventTransitions.WithLabelValues("disseminated").Inc()
		e.logger.Info("dissemination raised", "event_id", ev.ID, "tier", d.Tier.String())
	}
	if d.Tsunami {
		e.logger.Warn("tsunami risk", "event_id", ev.ID)
	}

	if e.enricher != nil && ev.State == domain.EventConfirmed && !ev.EnrichmentRequested {
		ev.EnrichmentRequested = e.enricher.Request(ev.Clone())
	}

	out := e.emitter.Emit(ev)
	ev.PendingPersonal = nil
	for _, n := range out {
		e.metrics.NotificationsEmitted.WithLabelValues(string(n.Kind)).Inc()
	}
	return out
}

func (e *Engine) recordChange(obs domain.ResolvedObservation, c aggregate.Change) {
	ev := c.Event
	switch {
	case c.Created:
		e.metrics.EventTransitions.WithLabelValues("created").Inc()
		e.logger.Info("event created", "event_id", ev.ID, "state", ev.State, "observation_id", obs.ID)
	case c.Retracted:
		e.metrics.EventTransitions.WithLabelValues("retracted").Inc()
		e.logger.Info("event retracted", "event_id", ev.ID, "observation_id", obs.ID)
	case c.Revised:
		e.metrics.EventTransitions.WithLabelValues("revised").Inc()
		e.logger.Info("event revised", "event_id", ev.ID, "revision", ev.Revision)
	}
	if c.Promoted {
		e.metrics.EventTransitions.WithLabelValues("promoted").Inc()
		e.logger.Info("event promoted", "event_id", ev.ID, "score", ev.Score)
	}
}
