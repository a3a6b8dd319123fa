package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/planwright/planwright-backend/internal/availability"
	"github.com/planwright/planwright-backend/internal/catalog"
	"github.com/planwright/planwright-backend/internal/reservations"
	"github.com/planwright/planwright-backend/internal/sweeper"
	"github.com/planwright/planwright-backend/pkg/config"
	"github.com/planwright/planwright-backend/pkg/db"
	"github.com/planwright/planwright-backend/pkg/logger"
	"github.com/planwright/planwright-backend/pkg/metrics"
	"github.com/planwright/planwright-backend/pkg/migrate"
	"github.com/planwright/planwright-backend/pkg/redis"
)

const lockKeyFormat = "pw:sweeper-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "sweeper-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sweeper-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sweeper-worker",
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

	catalogRepo := catalog.NewRepository(dbClient.DB())
	index := availability.NewIndex()
	checker, err := availability.NewChecker(index, catalogRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create availability checker", err)
		os.Exit(1)
	}

	reservationsSvc, err := reservations.NewService(reservations.ServiceParams{
		Repo:    reservations.NewRepository(dbClient.DB()),
		Tx:      dbClient,
		Index:   index,
		Checker: checker,
		Catalog: catalogRepo,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservations service", err)
		os.Exit(1)
	}

	if _, err := reservationsSvc.RebuildIndex(context.Background()); err != nil {
		logg.Error(context.Background(), "failed to rebuild interval index", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewSweeperJobMetrics(prometheus.DefaultRegisterer)
	lock, err := sweeper.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Sweeper.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper lock", err)
		os.Exit(1)
	}

	lifecycleJob, err := sweeper.NewLifecycleJob(sweeper.LifecycleJobParams{
		Logger:      logg,
		Runner:      reservationsSvc,
		Metrics:     metricsCollector,
		HoldTimeout: cfg.Reservations.HoldTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create lifecycle job", err)
		os.Exit(1)
	}

	service, err := sweeper.NewService(sweeper.ServiceParams{
		Logger:   logg,
		Registry: sweeper.NewRegistry(lifecycleJob),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Sweeper.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting sweeper worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sweeper worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sweeper worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
