// Package app wires configuration, storage, queue, event sinks and the HTTP
// server into one process and owns its shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/api"
	"github.com/ayo6706/ledger-transfer/internal/api/handler"
	"github.com/ayo6706/ledger-transfer/internal/api/middleware"
	"github.com/ayo6706/ledger-transfer/internal/cache"
	"github.com/ayo6706/ledger-transfer/internal/config"
	"github.com/ayo6706/ledger-transfer/internal/db"
	"github.com/ayo6706/ledger-transfer/internal/events"
	"github.com/ayo6706/ledger-transfer/internal/idempotency"
	"github.com/ayo6706/ledger-transfer/internal/observability"
	"github.com/ayo6706/ledger-transfer/internal/queue"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/ayo6706/ledger-transfer/internal/repository/memory"
	"github.com/ayo6706/ledger-transfer/internal/service"
	"github.com/ayo6706/ledger-transfer/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

type ledgerBackend interface {
	service.LedgerStore
	Ping(ctx context.Context) error
}

// Run bootstraps the API, queue consumers and reconciliation worker, blocking
// until SIGINT/SIGTERM or a fatal server error.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	redisClient, err := newRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	workQueue := queue.NewRedisQueue(redisClient, queue.Options{
		Name:        cfg.QueueName,
		Workers:     cfg.QueueWorkers,
		MaxAttempts: cfg.QueueMaxAttempts,
		BackoffBase: cfg.QueueBackoffBase,
		BackoffMax:  cfg.QueueBackoffMax,
		PollTimeout: cfg.QueuePollTimeout,
	}, logger.Named("queue"))

	sink, closeSink := buildSinks(cfg, logger)
	defer closeSink()

	accountCache := cache.NewAccountCache(redisClient, cfg.AccountCacheTTL)
	transfers := service.NewTransferService(store, workQueue, sink).
		WithMaxTransferAmount(cfg.MaxTransferAmount).
		WithAccountCache(accountCache).
		WithSettleTimeout(cfg.ProcessTimeout)
	accounts := service.NewAccountService(store, accountCache)
	reconciler := service.NewReconciliationService(store, workQueue, transfers).
		WithThresholds(cfg.StalePendingAfter, cfg.StaleProcessingAfter).
		WithPendingExpiry(cfg.PendingExpireAfter).
		WithBatchSize(cfg.ReconciliationBatchSize)

	consumeCtx, stopConsumers := context.WithCancel(ctx)
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- workQueue.Consume(consumeCtx, transfers.Process)
	}()

	stopWorker := worker.NewReconciliationWorker(reconciler).
		WithInterval(cfg.ReconciliationInterval).
		Run(ctx)

	auth := middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	if !auth.Configured() {
		logger.Warn("JWT_SECRET not set; admin endpoints will refuse requests")
	}

	router := api.NewRouter(api.Deps{
		Transfers:   transfers,
		Accounts:    accounts,
		Idempotency: idempotency.NewStore(redisClient, cfg.IdempotencyTTL),
		Auth:        auth,
		Health: map[string]handler.Pinger{
			"ledger": store,
			"redis":  handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		},
		Logger:             logger.Named("http"),
		PublicRateLimitRPS: cfg.PublicRateLimitRPS,
		AdminRateLimitRPS:  cfg.AdminRateLimitRPS,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.String("backend", cfg.Backend))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case err := <-consumerDone:
		runErr = fmt.Errorf("queue consumers stopped: %w", err)
		consumerDone <- nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping queue consumers")
	stopConsumers()
	select {
	case err := <-consumerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("queue consumers exited with error", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Warn("queue consumers did not stop before shutdown timeout")
	}

	logger.Info("stopping reconciliation worker")
	stopWorker()

	logger.Info("shutdown complete")
	return runErr
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledgerBackend, func(), error) {
	if cfg.Backend == config.BackendMemory {
		logger.Warn("using in-memory ledger; balances are lost on restart")
		return memory.NewStore().WithLockTimeout(cfg.LockTimeout), func() {}, nil
	}

	if cfg.RunMigrations {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return repository.NewStore(pool).WithLockTimeout(cfg.LockTimeout), pool.Close, nil
}

// buildSinks always logs events and adds Kafka when brokers are configured.
func buildSinks(cfg *config.Config, logger *zap.Logger) (events.Sink, func()) {
	logSink := events.NewLogSink(logger.Named("events"))
	if len(cfg.KafkaBrokers) == 0 {
		return events.NewMulti(logSink), func() {}
	}

	kafkaSink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaEventsTopic, logger.Named("events"))
	logger.Info("kafka event sink enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaEventsTopic))
	return events.NewMulti(logSink, kafkaSink), func() {
		if err := kafkaSink.Close(); err != nil {
			logger.Error("kafka sink close failed", zap.Error(err))
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
