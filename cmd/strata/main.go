package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	apiv1 "github.com/strata-lab/strata/internal/api/v1"
	"github.com/strata-lab/strata/internal/config"
	"github.com/strata-lab/strata/internal/migrations"
	"github.com/strata-lab/strata/internal/publish"
	"github.com/strata-lab/strata/internal/retention"
	"github.com/strata-lab/strata/internal/server"
	snapshotpg "github.com/strata-lab/strata/internal/snapshot/postgres"
	"github.com/strata-lab/strata/internal/store"
	"github.com/strata-lab/strata/internal/store/hot"
	"github.com/strata-lab/strata/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "strata.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Initialize Warm Store (PostgreSQL)
	warm, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize event store", "error", err)
		os.Exit(1)
	}
	defer warm.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(warm.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Hot Store and Tiered Orchestrator
	cache := hot.NewCache(hot.Config{
		MaxAggregates:      cfg.Cache.MaxAggregates,
		MaxEventsPerStream: cfg.Cache.MaxEventsPerStream,
		TTL:                cfg.CacheTTL(),
	})

	var tieredOpts []store.TieredOption
	if cfg.Publisher.Enabled {
		publisher := publish.NewKafkaPublisher(cfg.Publisher.Brokers, cfg.Publisher.Topic)
		defer publisher.Close()
		tieredOpts = append(tieredOpts, store.WithPublisher(publisher))
	}
	tiered := store.NewTiered(warm, cache, tieredOpts...)

	// 4. Initialize Snapshot Store
	snapshots := snapshotpg.NewStore(warm.DB())

	// 5. Initialize Snapshot Strategy and API
	strategy, err := cfg.BuildStrategy()
	if err != nil {
		slog.Error("Failed to build snapshot strategy", "error", err)
		os.Exit(1)
	}
	apiSvc := apiv1.NewService(tiered, snapshots, strategy, cfg.Server.MaxBodySizeMB)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, warm.DB(), cfg.Server.Mode)
	apiSvc.RegisterRoutes(srv.Engine)

	// 6. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Retention.Enabled {
		scheduler := retention.NewScheduler(
			cfg.RetentionInterval(),
			cfg.Retention.KeepCount,
			cfg.Retention.WorkerCount,
			snapshots,
		)
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				slog.Error("Retention scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Retention scheduler disabled by config")
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
