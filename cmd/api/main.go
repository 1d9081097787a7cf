package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/dcmlabs/dvmm-backend/api/controllers"
	"github.com/dcmlabs/dvmm-backend/api/routes"
	"github.com/dcmlabs/dvmm-backend/internal/eventstore"
	"github.com/dcmlabs/dvmm-backend/internal/request"
	"github.com/dcmlabs/dvmm-backend/internal/resource"
	"github.com/dcmlabs/dvmm-backend/pkg/config"
	"github.com/dcmlabs/dvmm-backend/pkg/db"
	"github.com/dcmlabs/dvmm-backend/pkg/logger"
	"github.com/dcmlabs/dvmm-backend/pkg/migrate"
	"github.com/dcmlabs/dvmm-backend/pkg/outbox"
	"github.com/dcmlabs/dvmm-backend/pkg/redis"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	store, err := eventstore.NewStore(dbClient.DB(), eventstore.DefaultDecoders(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create event store", err)
		os.Exit(1)
	}
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	requestService, err := request.NewService(dbClient, store, request.NewRepository(dbClient.DB()), emitter, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create request service", err)
		os.Exit(1)
	}
	resourceService, err := resource.NewService(dbClient, store, resource.NewRepository(dbClient.DB()), emitter, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create resource service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, controllers.Dependencies{
			DB:    dbClient,
			Redis: redisClient,
		}, requestService, resourceService),
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
			os.Exit(1)
		}
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
