package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dcmlabs/dvmm-backend/internal/cron"
	"github.com/dcmlabs/dvmm-backend/internal/hypervisor"
	"github.com/dcmlabs/dvmm-backend/internal/resource"
	"github.com/dcmlabs/dvmm-backend/pkg/config"
	"github.com/dcmlabs/dvmm-backend/pkg/db"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
	"github.com/dcmlabs/dvmm-backend/pkg/metrics"
	"github.com/dcmlabs/dvmm-backend/pkg/migrate"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox"
	"github.com/dcmlabs/dvmm-backend/pkg/redis"
)

const lockKeyFormat = "dvmm:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	progressJob, err := cron.NewProgressCleanupJob(cron.ProgressCleanupJobParams{
		Logger:     logg,
		Repository: resource.NewRepository(dbClient.DB()),
		MaxAge:     cfg.Cron.ProgressMaxAge,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create progress cleanup job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		Repository:    outbox.NewRepository(dbClient.DB()),
		RetentionDays: cfg.Outbox.RetentionDays,
		BatchSize:     cfg.Cron.OutboxBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	jobs := []cron.Job{progressJob, retentionJob}

	// The simulator has no vCenter session to keep warm.
	if !cfg.Hypervisor.IsSimulator() {
		hvClient, err := hypervisor.NewVSphereClient(cfg.Hypervisor, logg, nil)
		if err != nil {
			logg.Error(context.Background(), "failed to create hypervisor client", err)
			os.Exit(1)
		}
		keepAliveJob, err := cron.NewSessionKeepAliveJob(cron.SessionKeepAliveJobParams{
			Logger: logg,
			Client: hvClient,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create session keepalive job", err)
			os.Exit(1)
		}
		jobs = append(jobs, keepAliveJob)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
