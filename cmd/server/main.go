package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/garrettladley/hookd/internal/config"
	"github.com/garrettladley/hookd/internal/kafka"
	"github.com/garrettladley/hookd/internal/metrics"
	xredis "github.com/garrettladley/hookd/internal/redis"
	"github.com/garrettladley/hookd/internal/server"
	"github.com/garrettladley/hookd/internal/server/handler"
	servermw "github.com/garrettladley/hookd/internal/server/middleware"
	"github.com/garrettladley/hookd/internal/service/ingest"
	"github.com/garrettladley/hookd/internal/service/sink"
	"github.com/garrettladley/hookd/internal/service/webhook"
	"github.com/garrettladley/hookd/internal/storage"
	"github.com/garrettladley/hookd/internal/xhttp/middleware"
	"github.com/garrettladley/hookd/internal/xslog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	keyPort        = "port"
	keyGracePeriod = "grace_period"

	shutdownGracePeriod = 2 * time.Second
	shutdownTimeout     = 30 * time.Second
)

func main() {
	_ = godotenv.Load()

	logger := xslog.NewLoggerFromEnv(os.Stdout)
	slog.SetDefault(logger)

	ctx := context.Background()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", xslog.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Read()
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	pool, err := initPostgres(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize postgres: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}

	redisClient, err := initRedis(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis client: %w", err)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	store, err := initStore(ctx, cfg, pool, redisClient, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize idempotency store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.ErrorContext(ctx, "failed to close store", xslog.Error(err))
		}
	}()

	gate, err := webhook.NewGate(webhook.GateConfig{
		Stage:      cfg.Stage,
		Secrets:    cfg.Webhook.Secrets(),
		Tolerance:  cfg.Webhook.Tolerance,
		DefaultTTL: cfg.Webhook.DefaultTTL,
	}, store, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize webhook gate: %w", err)
	}

	callback, closeSink, err := initCallback(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event sink: %w", err)
	}
	defer func() {
		if err := closeSink(); err != nil {
			logger.ErrorContext(ctx, "failed to close event sink", xslog.Error(err))
		}
	}()

	metrics.Init()
	controller, err := ingest.New(gate, store, callback, cfg.Ingest.Controller(),
		ingest.WithRecorder(metrics.Recorder{}),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize ingestion controller: %w", err)
	}

	limiter := storage.NewRateLimiter(redisClient, cfg.RateLimit.Limit, cfg.RateLimit.Burst)
	if closer, ok := limiter.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	// Handlers
	webhookHandler := handler.NewWebhook(controller, cfg.Webhook.SignatureHeader, cfg.Ingest.MaxPayloadBytes)
	healthHandler := handler.NewHealth(store)

	mux := http.NewServeMux()

	webhookMux := http.NewServeMux()
	webhookMux.HandleFunc("POST /webhooks/payments", webhookHandler.HandleWebhook)
	mux.Handle("/webhooks/", middleware.Chain(webhookMux,
		servermw.RateLimit(limiter),
	))

	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	wrapped := middleware.Chain(mux,
		middleware.RequestID(middleware.WithTrustedHeader()),
		middleware.Logger(logger),
		middleware.Logging,
		middleware.Recovery,
		middleware.SecurityHeaders,
		middleware.ShutdownContext,
	)

	shutdownCoordinator := server.NewShutdownCoordinator(shutdownGracePeriod)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           wrapped,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return shutdownCoordinator.BaseContext()
		},
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		logger.InfoContext(ctx, "starting server",
			xslog.Version(),
			xslog.Stage(cfg.Stage.String()),
			xslog.Backend(storeBackend(cfg).String()),
			slog.String(keyPort, cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return server.RunCleanup(xslog.WithLogger(gctx, logger), store, cfg.Store.CleanupInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.InfoContext(ctx, "shutdown signal received, initiating graceful shutdown")

		// cancel in-flight deliveries so they stop retrying before the drain
		shutdownCoordinator.InitiateShutdown(ctx)
		logger.InfoContext(ctx, "grace period complete, shutting down server",
			slog.Duration(keyGracePeriod, shutdownGracePeriod))

		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.InfoContext(ctx, "server stopped")
	return nil
}

func storeBackend(cfg config.Config) storage.Backend {
	backend, _ := cfg.StoreBackend()
	return backend
}

func initPostgres(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, nil
	}
	logger.InfoContext(ctx, "initializing PostgreSQL")

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

func initRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) (*redis.Client, error) {
	if cfg.Redis.URL == "" {
		return nil, nil
	}
	logger.InfoContext(ctx, "initializing Redis")
	return xredis.New(ctx, xredis.Config{URL: cfg.Redis.URL})
}

func initStore(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) (storage.Store, error) {
	logger.InfoContext(ctx, "initializing idempotency store",
		xslog.Stage(cfg.Stage.String()),
		xslog.Backend(storeBackend(cfg).String()))

	return storage.New(ctx, cfg.Stage, storage.Options{
		Backend:    cfg.Store.Backend,
		Table:      cfg.Store.Table,
		SQLitePath: cfg.Store.SQLitePath,
		Pool:       pool,
		Redis:      redisClient,
		KeyPrefix:  cfg.Store.KeyPrefix,
	})
}

func initCallback(ctx context.Context, cfg config.Config, logger *slog.Logger) (ingest.Callback, func() error, error) {
	if !cfg.Kafka.Enabled() {
		logger.InfoContext(ctx, "kafka not configured, logging processed events")
		return sink.Log(), func() error { return nil }, nil
	}

	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return nil, nil, err
	}
	logger.InfoContext(ctx, "publishing processed events to kafka", xslog.Topic(producer.Topic()))
	return sink.Kafka(producer, producer.Topic(), nil), producer.Close, nil
}
