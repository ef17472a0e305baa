package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rentpulse-lab/project-rentpulse/internal/aggregation"
	corecfg "github.com/rentpulse-lab/project-rentpulse/internal/core/config"
	"github.com/rentpulse-lab/project-rentpulse/internal/core/storage/postgres"
	"github.com/rentpulse-lab/project-rentpulse/internal/ingestion"
	"github.com/rentpulse-lab/project-rentpulse/internal/metrics"
	"github.com/rentpulse-lab/project-rentpulse/internal/migrations"
	"github.com/rentpulse-lab/project-rentpulse/internal/reconcile"
	"github.com/rentpulse-lab/project-rentpulse/internal/rollup"
	"github.com/rentpulse-lab/project-rentpulse/internal/server"
)

func main() {
	configPath := flag.String("config", "rentpulse.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"server_addr", fmtAddr(cfg.Server.Host, cfg.Server.Port),
		"whitelisted_amenities", cfg.Filters.Size(),
		"aggregation_enabled", cfg.Aggregation.Enabled,
		"reconcile_enabled", cfg.Reconcile.Enabled,
	)

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize the counter and stats adapters on the shared connection
	counterStore := postgres.NewCounterAdapter(dbAdapter.DB())
	statsStore := postgres.NewStatsAdapter(dbAdapter.DB())

	// 4. Initialize Aggregation (synchronous apply with conflict retries)
	engine := aggregation.NewEngine(counterStore, cfg.Filters,
		aggregation.WithRetryPolicy(
			cfg.Aggregation.MaxRetries,
			cfg.Aggregation.RetryBackoffDuration(),
		),
	)

	// 5. Initialize Ingestion
	ingestionSvc := ingestion.NewService(dbAdapter, engine, cfg.Server.MaxBodySizeMB, cfg.Aggregation.Enabled)

	// 6. Initialize the Metrics API (rollup windows + funnel rates)
	windowReader := rollup.NewReader(statsStore)
	authenticator := metrics.NewAuthenticator(cfg.Metrics.JWTSecret)
	metricsSvc := metrics.NewService(
		statsStore,
		statsStore,
		windowReader,
		authenticator,
		cfg.Metrics.TopFiltersLimit,
	)

	// 7. Initialize the snapshot reconciler
	reconciler := reconcile.NewScheduler(
		cfg.Reconcile.IntervalDuration(),
		statsStore,
		cfg.Reconcile.WorkerCount,
	)

	// 8. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	metricsSvc.RegisterRoutes(srv.Engine)

	// 9. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Reconcile.Enabled {
		go func() {
			if err := reconciler.Start(ctx); err != nil {
				slog.Error("Reconciler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Snapshot reconciler disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
