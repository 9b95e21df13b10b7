package enrich

import (
	"context"
	"log/slog"
	"sync"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// Sink receives finished enrichments.
type Sink interface {
	AttachEnrichment(eventID string, en domain.Enrichment)
}

// Dispatcher runs enrichment on a bounded worker pool so lookups never stall
// the caller. Requests beyond the queue capacity are dropped.
type Dispatcher struct {
	resolver *Resolver
	workers  int
	jobs     chan domain.Event
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewDispatcher creates a Dispatcher. Call Run to start the workers.
func NewDispatcher(resolver *Resolver, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	workers := max(1, cfg.Workers)
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = workers * 2
	}
	return &Dispatcher{
		resolver: resolver,
		workers:  workers,
		jobs:     make(chan domain.Event, queue),
		logger:   logger,
		metrics:  metrics,
	}
}

// Request queues ev for enrichment without blocking. It reports false when
// the queue is full.
func (d *Dispatcher) Request(ev domain.Event) bool {
	select {
	case d.jobs <- ev:
		return true
	default:
		d.metrics.EnrichmentRejected.Inc()
		d.logger.Warn("enrichment queue full, request dropped", "event_id", ev.ID)
		return false
	}
}

// Run processes requests until ctx is cancelled, handing each result to sink.
func (d *Dispatcher) Run(ctx context.Context, sink Sink) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx, sink)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.jobs:
			en := d.resolver.Enrich(ctx, ev)
			if ctx.Err() != nil {
				return
			}
			sink.AttachEnrichment(ev.ID, en)
		}
	}
}
