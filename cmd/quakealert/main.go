package main

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/couchcryptid/quake-alert-service/internal/adapter/dataset"
	httpadapter "github.com/couchcryptid/quake-alert-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/quake-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/quake-alert-service/internal/adapter/mapbox"
	"github.com/couchcryptid/quake-alert-service/internal/aggregate"
	"github.com/couchcryptid/quake-alert-service/internal/classify"
	"github.com/couchcryptid/quake-alert-service/internal/config"
	"github.com/couchcryptid/quake-alert-service/internal/credibility"
	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/emit"
	"github.com/couchcryptid/quake-alert-service/internal/engine"
	"github.com/couchcryptid/quake-alert-service/internal/enrich"
	"github.com/couchcryptid/quake-alert-service/internal/geolocate"
	"github.com/couchcryptid/quake-alert-service/internal/normalize"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
	"github.com/couchcryptid/quake-alert-service/internal/pipeline"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()
	domain.SetClock(clock)

	ds, err := dataset.Load(cfg.DatasetPath)
	if err != nil {
		logger.Error("failed to load dataset", "path", cfg.DatasetPath, "error", err)
		os.Exit(1)
	}
	sum := ds.Summary()
	logger.Info("dataset loaded",
		"path", cfg.DatasetPath,
		"cities", sum.Cities,
		"regions", sum.Regions,
		"recipients", sum.Recipients,
		"accounts", sum.Accounts,
	)

	// The offline dataset answers first; Mapbox (feature-flagged via
	// MAPBOX_ENABLED / MAPBOX_TOKEN) covers names and coordinates it lacks.
	gazetteer := geolocate.Chain{ds}
	toponyms := geolocate.ToponymChain{ds}
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		cached := mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		gazetteer = append(gazetteer, cached)
		toponyms = append(toponyms, cached)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	policy := cfg.Policy
	enrichCfg := enrich.ConfigFromPolicy(policy, cfg.QueueSize)
	enrichResolver := enrich.NewResolver(ds, enrichCfg, logger, metrics)
	dispatcher := enrich.NewDispatcher(enrichResolver, enrichCfg, logger, metrics)

	eng := engine.New(
		aggregate.New(aggregate.ConfigFromPolicy(policy), clock),
		classify.New(classify.ConfigFromPolicy(policy), ds),
		emit.New(clock),
		dispatcher,
		clock,
		logger,
		metrics,
	)

	resolver := pipeline.NewObservationResolver(
		normalize.New(policy.MaxEventAge),
		geolocate.New(gazetteer, toponyms, logger),
		credibility.NewScorer(policy.ScoreBaseline, policy.ScoreFloor, credibility.WithAccounts(ds.Accounts())),
		enrichResolver,
		policy.MaxEventAge,
		policy.DefaultDepthKm,
		logger,
	)

	topics := cfg.SourceTopics()
	readers := make([]*kafkaadapter.Reader, 0, len(topics))
	sources := make([]pipeline.Source, 0, len(topics))
	for _, format := range slices.Sorted(maps.Keys(topics)) {
		r := kafkaadapter.NewReader(cfg, topics[format], format, logger)
		readers = append(readers, r)
		sources = append(sources, r)
	}
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(sources, resolver, eng, writer, logger, metrics, pipeline.Options{
		BatchSize:    cfg.BatchSize,
		QueueSize:    cfg.QueueSize,
		TickInterval: policy.TickInterval,
		Clock:        clock,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, eng, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	var wg sync.WaitGroup

	// Start enrichment workers.
	wg.Go(func() {
		dispatcher.Run(ctx, eng)
	})

	// Start detection pipeline.
	wg.Go(func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	wg.Wait()
	for _, r := range readers {
		if err := r.Close(); err != nil {
			logger.Error("kafka reader close error", "topic", r.Name(), "error", err)
		}
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
