package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felipepmaragno/ai-orchestrator/internal/api"
	"github.com/felipepmaragno/ai-orchestrator/internal/config"
	"github.com/felipepmaragno/ai-orchestrator/internal/cost"
	"github.com/felipepmaragno/ai-orchestrator/internal/crypto"
	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/felipepmaragno/ai-orchestrator/internal/failover"
	"github.com/felipepmaragno/ai-orchestrator/internal/gateway"
	"github.com/felipepmaragno/ai-orchestrator/internal/health"
	"github.com/felipepmaragno/ai-orchestrator/internal/httputil"
	"github.com/felipepmaragno/ai-orchestrator/internal/notifications"
	"github.com/felipepmaragno/ai-orchestrator/internal/queue"
	"github.com/felipepmaragno/ai-orchestrator/internal/quota"
	"github.com/felipepmaragno/ai-orchestrator/internal/registry"
	"github.com/felipepmaragno/ai-orchestrator/internal/repository"
	"github.com/felipepmaragno/ai-orchestrator/internal/secrets"
	"github.com/felipepmaragno/ai-orchestrator/internal/telemetry"
)

const (
	serviceName = "ai-orchestrator"
	version     = "0.1.0"

	alertDedupTTL = 31 * 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting AI orchestrator", "addr", cfg.Addr, "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, serviceName, version, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}

	var deps []api.Dependency

	var (
		store domain.ProviderConfigStore
		usage cost.Tracker
		db    *sql.DB
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		if err := repository.Migrate(ctx, db); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			logger.Error("failed to init credential encryption", "error", err)
			os.Exit(1)
		}
		store = repository.NewPostgresProviderConfigStore(db, encryptor)
		usage = repository.NewPostgresUsageRepository(db)
		deps = append(deps, api.PostgresDependency(db))
		logger.Info("using postgres provider store")
	} else {
		store = repository.NewInMemoryProviderConfigStore()
		usage = cost.NewInMemoryTracker()
		logger.Info("using in-memory provider store")
	}

	var (
		quotaStore domain.QuotaStore
		quotaOpts  = []quota.Option{quota.WithLogger(logger)}
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		quotaStore = quota.NewRedisStoreWithClient(client)
		quotaOpts = append(quotaOpts, quota.WithDeduplicator(quota.NewRedisDeduplicator(client, alertDedupTTL)))
		deps = append(deps, api.RedisDependency(client))
		logger.Info("using redis quota store")
	} else {
		quotaStore = quota.NewInMemoryStore()
		logger.Info("using in-memory quota store")
	}

	var notifier notifications.Notifier
	if cfg.SNSTopicARN != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			logger.Error("failed to init sns notifier", "error", err)
			os.Exit(1)
		}
		logger.Info("using sns notifications", "topic_arn", cfg.SNSTopicARN)
	} else {
		notifier = notifications.NewInMemoryNotifier()
	}
	dispatcher := notifications.NewDispatcher(notifier, logger)

	registryOpts := []registry.Option{
		registry.WithCapacity(cfg.AdapterCacheSize),
		registry.WithHTTPClient(httputil.NewClient(httputil.WithUserAgent(serviceName + "/" + version))),
		registry.WithAWSRegion(cfg.AWSRegion),
		registry.WithLogger(logger),
	}
	if sm, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion); err != nil {
		logger.Warn("secrets manager unavailable, secret: credentials will fail", "error", err)
	} else {
		registryOpts = append(registryOpts, registry.WithSecretStore(sm))
	}
	adapters := registry.New(registryOpts...)

	tracker := health.NewTracker(
		health.Config{
			FailureThreshold: cfg.HealthFailureThreshold,
			Cooldown:         cfg.HealthCooldown,
		},
		health.WithTransitionHook(dispatcher.HealthTransition),
		health.WithLogger(logger),
	)

	orchestrator := failover.New(store, adapters, tracker,
		failover.WithMaxAttempts(cfg.FailoverMaxAttempts),
		failover.WithLogger(logger),
	)

	gate := quota.NewGate(quotaStore, quotaOpts...)
	gate.OnAlert(quota.LogAlertHandler)
	gate.OnAlert(dispatcher.QuotaAlert)

	gw := gateway.New(orchestrator,
		cost.NewEstimator(store, cost.WithDefaultModel(registry.DefaultModel)),
		store,
		adapters,
		gateway.WithQuota(gate),
		gateway.WithUsageTracker(usage),
		gateway.WithLogger(logger),
	)

	workerCtx, stopWorker := context.WithCancel(ctx)
	var workers sync.WaitGroup
	if cfg.QueueEnabled() {
		jobs, err := queue.NewSQSQueue(ctx, cfg.AWSRegion, cfg.SQSRequestQueueURL, cfg.SQSResponseQueueURL)
		if err != nil {
			logger.Error("failed to init sqs queue", "error", err)
			os.Exit(1)
		}
		worker := queue.NewWorker(jobs, gw, queue.WorkerConfig{Concurrency: cfg.WorkerConcurrency}, logger)
		workers.Add(1)
		go func() {
			defer workers.Done()
			worker.Run(workerCtx)
		}()
	}

	handler := api.NewHandler(api.HandlerConfig{
		Health:       tracker,
		Dependencies: deps,
		Version:      version,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	stopWorker()
	workers.Wait()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("failed to flush traces", "error", err)
	}
	if db != nil {
		db.Close()
	}

	logger.Info("stopped")
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}
