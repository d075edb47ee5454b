// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	aggservice "pulse/internal/aggregate/service"
	aggstore "pulse/internal/aggregate/store"
	"pulse/internal/aggregate/workers/rollup"
	consentservice "pulse/internal/consent/service"
	consentstore "pulse/internal/consent/store"
	ingestservice "pulse/internal/ingest/service"
	ingeststore "pulse/internal/ingest/store"
	"pulse/internal/ingest/workers/retention"
	"pulse/internal/platform/cache"
	"pulse/internal/platform/clickhouse"
	"pulse/internal/platform/config"
	"pulse/internal/platform/database"
	"pulse/internal/platform/health"
	"pulse/internal/platform/kafka/producer"
	"pulse/internal/platform/logger"
	"pulse/internal/platform/metrics"
	platformredis "pulse/internal/platform/redis"
	"pulse/internal/query"
	"pulse/internal/realtime"
	realtimestore "pulse/internal/realtime/store"
	httptransport "pulse/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	log.Info("initializing pulse",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
	)

	healthHandler := health.New(cfg.Environment)

	// Optional infrastructure: each constructor returns nil when the backend
	// is not configured, and the stores fall back to in-memory.
	pool, err := database.New(cfg.Postgres)
	if err != nil {
		log.Error("postgres init failed", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
		healthHandler.RegisterCheck("postgres", func() error {
			return pool.Health(context.Background())
		})
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		healthHandler.RegisterCheck("redis", func() error {
			return redisClient.Health(context.Background())
		})
	}

	chClient, err := clickhouse.New(cfg.ClickHouse)
	if err != nil {
		log.Error("clickhouse init failed", "error", err)
		os.Exit(1)
	}
	if chClient != nil {
		defer chClient.Close()
		healthHandler.RegisterCheck("clickhouse", func() error {
			return chClient.Health(context.Background())
		})
	}

	kafkaProducer, err := producer.New(cfg.Kafka, log)
	if err != nil {
		log.Error("kafka init failed", "error", err)
		os.Exit(1)
	}
	if kafkaProducer != nil {
		defer kafkaProducer.Close()
	}

	// Store selection: columnar first, then relational, then memory.
	var eventStore ingeststore.Store
	switch {
	case chClient != nil:
		eventStore = ingeststore.NewClickHouse(chClient.Conn)
	case pool != nil:
		eventStore = ingeststore.NewPostgres(pool.DB())
	default:
		log.Warn("no event store configured, using in-memory store")
		eventStore = ingeststore.NewInMemory()
	}

	var aggregateStore aggstore.Store
	if pool != nil {
		aggregateStore = aggstore.NewPostgres(pool.DB())
	} else {
		aggregateStore = aggstore.NewInMemory()
	}

	var snapshotStore realtimestore.Store
	if redisClient != nil {
		snapshotStore = realtimestore.NewRedis(redisClient.Client)
	} else {
		snapshotStore = realtimestore.NewInMemory()
	}

	counter := realtime.NewCounter(snapshotStore,
		realtime.WithLogger(log),
		realtime.WithMetrics(m),
	)

	ingestOpts := []ingestservice.Option{
		ingestservice.WithLogger(log),
		ingestservice.WithMetrics(m),
		ingestservice.WithRealtime(counter),
		ingestservice.WithAnonymizeIP(cfg.Privacy.AnonymizeIP),
		ingestservice.WithRetentionHorizon(cfg.Retention.Horizon),
	}
	if kafkaProducer != nil {
		ingestOpts = append(ingestOpts, ingestservice.WithProducer(kafkaProducer, cfg.Kafka.Topic))
	}
	ingestSvc := ingestservice.NewService(eventStore, ingestOpts...)

	queryCache := cache.New()
	querySvc := query.NewService(aggregateStore, eventStore, queryCache,
		query.WithLogger(log),
	)

	aggSvc := aggservice.NewService(eventStore, aggregateStore,
		aggservice.WithLogger(log),
		aggservice.WithMetrics(m),
		aggservice.WithInvalidator(querySvc.InvalidateAggregate),
	)

	consentSvc := consentservice.NewService(consentstore.NewInMemory(),
		consentservice.WithLogger(log),
		consentservice.WithMetrics(m),
	)

	analyticsHandler := httptransport.NewAnalyticsHandler(ingestSvc, querySvc, log)
	consentHandler := httptransport.NewConsentHandler(consentSvc, log)
	router := httptransport.NewRouter(analyticsHandler, consentHandler, healthHandler, log)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	retentionWorker := retention.New(eventStore,
		retention.WithLogger(log),
		retention.WithInterval(cfg.Retention.Interval),
	)
	g.Go(func() error {
		err := retentionWorker.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	rollupWorker := rollup.New(eventStore, aggSvc,
		rollup.WithLogger(log),
		rollup.WithInterval(cfg.Rollup.Interval),
		rollup.WithLookback(cfg.Rollup.Lookback),
	)
	g.Go(func() error {
		err := rollupWorker.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
