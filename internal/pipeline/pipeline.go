package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Source reads batches of raw records from one ingestion feed.
type Source interface {
	Name() string
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Resolver turns a raw record into a resolved observation.
type Resolver interface {
	Resolve(ctx context.Context, raw domain.RawEvent) (domain.ResolvedObservation, error)
}

// Processor is the single writer over the event set.
type Processor interface {
	Process(obs domain.ResolvedObservation) ([]domain.Notification, error)
	Tick() []domain.Notification
}

// BatchLoader writes notifications to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, notifications []domain.Notification) error
}

// Options tunes the pipeline loops.
type Options struct {
	BatchSize    int
	QueueSize    int
	TickInterval time.Duration
	Clock        clockwork.Clock
}

type queued struct {
	obs domain.ResolvedObservation
	raw domain.RawEvent
}

// Pipeline runs one worker per source, a single processing loop and an
// outbox loop that publishes notifications.
type Pipeline struct {
	sources   []Source
	resolver  Resolver
	processor Processor
	loader    BatchLoader
	logger    *slog.Logger
	metrics   *observability.Metrics
	opts      Options
	ready     atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(sources []Source, r Resolver, p Processor, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		sources:   sources,
		resolver:  r,
		processor: p,
		loader:    l,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
	}
}

// CheckReadiness returns nil once every source worker has started.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("source workers have not started yet")
	}
	return nil
}

// Run starts every loop and blocks until ctx is cancelled and all loops
// have stopped.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "sources", len(p.sources), "batch_size", p.opts.BatchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	queue := make(chan queued, p.opts.QueueSize)
	outbox := make(chan []domain.Notification, p.opts.QueueSize)

	var wg sync.WaitGroup
	for _, src := range p.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runSource(ctx, src, queue)
		}()
	}
	p.ready.Store(true)

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(outbox)
		p.runProcessor(ctx, queue, outbox)
	}()
	go func() {
		defer wg.Done()
		p.runOutbox(ctx, outbox)
	}()

	<-ctx.Done()
	p.logger.Info("pipeline stopping", "reason", ctx.Err())
	wg.Wait()
	p.ready.Store(false)
	return nil
}

// runSource extracts, resolves and enqueues records from one source until
// ctx is cancelled. Extraction errors back off and retry; they never affect
// other sources.
func (p *Pipeline) runSource(ctx context.Context, src Source, queue chan<- queued) {
	log := p.logger.With("source", src.Name())
	log.Info("source worker started")
	backoff := initialBackoff

	for ctx.Err() == nil {
		batch, err := src.ExtractBatch(ctx, p.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("extract batch failed", "error", err, "backoff", backoff)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		if len(batch) == 0 {
			continue
		}
		backoff = initialBackoff
		p.metrics.ObservationsConsumed.WithLabelValues(src.Name()).Add(float64(len(batch)))
		p.metrics.BatchSize.Observe(float64(len(batch)))

		for _, raw := range batch {
			obs, err := p.resolver.Resolve(ctx, raw)
			if err != nil {
				reason := domain.DropReason(err)
				p.metrics.ObservationsDropped.WithLabelValues(reason).Inc()
				log.Warn("observation dropped", "reason", reason, "error", err,
					"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
				p.commitOffset(ctx, raw)
				continue
			}
			select {
			case queue <- queued{obs: obs, raw: raw}:
				p.metrics.QueueDepth.Set(float64(len(queue)))
			case <-ctx.Done():
				return
			}
		}
	}
}

// runProcessor is the only goroutine that calls the processor.
func (p *Pipeline) runProcessor(ctx context.Context, queue <-chan queued, outbox chan<- []domain.Notification) {
	ticker := p.opts.Clock.NewTicker(p.opts.TickInterval)
	defer ticker.Stop()

	for {
		var out []domain.Notification
		select {
		case <-ctx.Done():
			return
		case q := <-queue:
			p.metrics.QueueDepth.Set(float64(len(queue)))
			// Drops are counted and logged by the processor.
			out, _ = p.processor.Process(q.obs)
			p.commitOffset(ctx, q.raw)
		case <-ticker.Chan():
			out = p.processor.Tick()
		}
		if len(out) == 0 {
			continue
		}
		select {
		case outbox <- out:
		case <-ctx.Done():
			return
		}
	}
}

// runOutbox publishes notification batches. Failed batches are counted and
// logged, not retried.
func (p *Pipeline) runOutbox(ctx context.Context, outbox <-chan []domain.Notification) {
	for batch := range outbox {
		if err := p.loader.LoadBatch(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.metrics.NotificationPublishFails.Inc()
			p.logger.Error("publish notifications failed", "error", err, "batch_size", len(batch))
		}
	}
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
