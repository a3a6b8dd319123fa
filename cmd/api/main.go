package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/planwright/planwright-backend/api/routes"
	"github.com/planwright/planwright-backend/internal/availability"
	"github.com/planwright/planwright-backend/internal/catalog"
	"github.com/planwright/planwright-backend/internal/reservations"
	"github.com/planwright/planwright-backend/pkg/config"
	"github.com/planwright/planwright-backend/pkg/db"
	"github.com/planwright/planwright-backend/pkg/logger"
	"github.com/planwright/planwright-backend/pkg/migrate"
)

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

	// The index is a derived cache of committed demand; rebuild it before
	// accepting traffic.
	entries, err := reservationsSvc.RebuildIndex(context.Background())
	if err != nil {
		logg.Error(context.Background(), "failed to rebuild interval index", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":           cfg.App.Env,
		"addr":          addr,
		"index_entries": entries,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			DB:           dbClient.DB(),
			Reservations: reservationsSvc,
			Catalog:      catalogRepo,
			Metrics:      prometheus.DefaultGatherer,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
