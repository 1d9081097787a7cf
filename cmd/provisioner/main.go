package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dcmlabs/dvmm-backend/internal/eventstore"
	"github.com/dcmlabs/dvmm-backend/internal/hypervisor"
	"github.com/dcmlabs/dvmm-backend/internal/provisioning"
	"github.com/dcmlabs/dvmm-backend/internal/request"
	"github.com/dcmlabs/dvmm-backend/internal/resource"
	"github.com/dcmlabs/dvmm-backend/pkg/config"
	"github.com/dcmlabs/dvmm-backend/pkg/db"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
	"github.com/dcmlabs/dvmm-backend/pkg/metrics"
	"github.com/dcmlabs/dvmm-backend/pkg/migrate"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox/idempotency"
	"github.com/dcmlabs/dvmm-backend/pkg/pubsub"
	"github.com/dcmlabs/dvmm-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "provisioner"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "provisioner"

	logg = logger.New(logger.Options{
		ServiceName: "provisioner",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub client", err)
		}
	}()

	subscription := pubsubClient.ProvisionSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "provision subscription", errors.New("subscription not configured"))
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	provisioningMetrics := metrics.NewProvisioningMetrics(prometheus.DefaultRegisterer)
	hvClient, err := hypervisor.New(cfg.Hypervisor, logg, provisioningMetrics)
	requireResource(ctx, logg, "hypervisor client", err)

	store, err := eventstore.NewStore(dbClient.DB(), eventstore.DefaultDecoders(), logg)
	requireResource(ctx, logg, "event store", err)
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	requestService, err := request.NewService(dbClient, store, request.NewRepository(dbClient.DB()), emitter, logg)
	requireResource(ctx, logg, "request service", err)
	resourceService, err := resource.NewService(dbClient, store, resource.NewRepository(dbClient.DB()), emitter, logg)
	requireResource(ctx, logg, "resource service", err)

	saga, err := provisioning.NewSaga(requestService, resourceService, hvClient, provisioningMetrics, logg)
	requireResource(ctx, logg, "provisioning saga", err)

	consumer, err := provisioning.NewConsumer(saga, subscription, manager, logg)
	requireResource(ctx, logg, "provisioning consumer", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"hypervisor":  cfg.Hypervisor.Provider,
	})
	logg.Info(runCtx, "provisioning worker ready")

	if err := consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "provisioning worker failed", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "provisioning worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
