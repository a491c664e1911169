// webhookd is the webhook pipeline service: management API, dispatcher,
// delivery worker pool, recovery poller, and optional Kafka ingestion,
// all in one process.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sitestock/webhooks/internal/api"
	"github.com/sitestock/webhooks/internal/cache"
	"github.com/sitestock/webhooks/internal/clock"
	"github.com/sitestock/webhooks/internal/config"
	"github.com/sitestock/webhooks/internal/dispatch"
	"github.com/sitestock/webhooks/internal/ingest"
	"github.com/sitestock/webhooks/internal/observability"
	"github.com/sitestock/webhooks/internal/repository/postgres"
	"github.com/sitestock/webhooks/internal/resilience"
	"github.com/sitestock/webhooks/internal/retry"
	"github.com/sitestock/webhooks/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("WEBHOOKS_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	subRepo := postgres.NewSubscriptionRepository(pool)
	eventRepo := postgres.NewEventRepository(pool)

	clk := clock.RealClock{}

	var subCache cache.SubscriptionCache
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to parse redis URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(opt)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not available, using in-memory cache", "error", err)
			subCache = cache.NewMemoryCache(clk)
		} else {
			logger.Info("connected to redis")
			subCache = cache.NewRedisCache(redisClient)
		}
	} else {
		logger.Info("redis not configured, using in-memory cache")
		subCache = cache.NewMemoryCache(clk)
	}

	metrics := observability.NewMetrics("webhooks")
	healthHandler := observability.NewHealthHandler(pool)

	httpClient := &http.Client{Timeout: 60 * time.Second}

	rateLimiter := resilience.NewRateLimiterManager(resilience.DefaultRateLimiterConfig())
	circuitBreaker := resilience.NewCircuitBreakerManager(resilience.DefaultCircuitBreakerConfig())

	workerPool := worker.NewPool(
		worker.Config{Workers: cfg.Worker.Count, QueueSize: cfg.Worker.QueueSize},
		eventRepo,
		subRepo,
		httpClient,
		clk,
		retry.DefaultPolicy(),
		logger,
	).WithMetrics(metrics).WithResilience(rateLimiter, circuitBreaker)

	dispatcher := dispatch.NewDispatcher(subRepo, eventRepo, subCache, workerPool, clk, logger).
		WithMetrics(metrics).
		WithCacheTTL(cfg.CacheTTL)

	pollerConfig := retry.DefaultPollerConfig()
	pollerConfig.PollInterval = cfg.Poller.Interval
	pollerConfig.PurgeInterval = cfg.Poller.PurgeInterval
	poller := retry.NewPoller(eventRepo, subRepo, workerPool, clk, pollerConfig, logger).
		WithMetrics(metrics)

	handler := api.NewHandler(subRepo, eventRepo, subCache, workerPool, dispatcher, clk, logger)
	router := api.NewRouter(api.RouterConfig{
		Handler:       handler,
		HealthHandler: healthHandler,
		Metrics:       metrics,
		Logger:        logger,
	})

	workerPool.Start(ctx)
	go poller.Start(ctx)

	var consumer *ingest.Consumer
	if cfg.Kafka.Enabled {
		consumerConfig := ingest.DefaultConsumerConfig()
		consumerConfig.Brokers = cfg.Kafka.Brokers
		consumerConfig.Topic = cfg.Kafka.Topic
		consumerConfig.GroupID = cfg.Kafka.GroupID
		consumer = ingest.NewConsumer(consumerConfig, dispatcher, logger)
		consumer.Start(ctx)
	}

	healthHandler.SetReady(true)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.Error("failed to stop consumer", "error", err)
		}
	}
	cancel()
	workerPool.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
