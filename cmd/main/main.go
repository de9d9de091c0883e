package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"screener-engine/src/analysis"
	"screener-engine/src/config"
	"screener-engine/src/feed"
	"screener-engine/src/helpers"
	"screener-engine/src/ingest"
	"screener-engine/src/logger"
	"screener-engine/src/reference"
	"screener-engine/src/refresh"
	"screener-engine/src/scheduler"
	"screener-engine/src/server"
	"screener-engine/src/sessions"
	"screener-engine/src/tiering"
	"screener-engine/src/utils"

	"golang.org/x/sync/errgroup"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

// -----------------------------------------------------------------------------

func run(cfg *config.Config) error {
	appLogger := logger.NewLogger(cfg.MConfig, cfg.Name)

	if limit := helpers.MemoryLimitMB(cfg.MemoryMB); limit > 0 {
		debug.SetMemoryLimit(int64(limit) << 20)
		appLogger.Info("Memory limit set to %d MB", limit)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	db, err := setupDatabase(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer db.Close()

	bars, err := setupBarStore(cfg, db, appLogger)
	if err != nil {
		appLogger.Critical("Failed to open archive: %v", err)
		return err
	}

	pub, err := setupPublisher(cfg, appLogger)
	if err != nil {
		appLogger.Critical("Failed to connect publisher: %v", err)
		return err
	}
	if pub != nil {
		defer pub.Close()
	}

	// 2. Domain components
	calendar := utils.GetCalendar(cfg.Calendar.MIC)
	retention, err := cfg.Retention()
	if err != nil {
		appLogger.Critical("Invalid tiering policy: %v", err)
		return err
	}

	rollups := sessions.NewMaintainer(db, bars, calendar, cfg.Tiering.RollupRetentionDays, logger.NewLogger(cfg.MConfig, "SessionRollups"))
	refresher := reference.NewRefresher(db, bars, calendar, cfg.MConfig, logger.NewLogger(cfg.MConfig, "ReferenceRefresher"))
	facade := analysis.NewAnalysisFacade(calendar, logger.NewLogger(cfg.MConfig, "AnalysisFacade"))
	tierManager := tiering.NewManager(bars, rollups, retention, logger.NewLogger(cfg.MConfig, "TieringManager"))
	pipeline := ingest.NewPipeline(db, bars, rollups, pub, logger.NewLogger(cfg.MConfig, "Ingest"))

	opts := refresh.OptionsFromConfig(cfg)
	engineLogger := logger.NewLogger(cfg.MConfig, "RefreshEngine")
	pool := refresh.NewPool(cfg.Refresh.Workers, func(id int) *refresh.Engine {
		return refresh.NewEngine(id, opts, db, bars, facade, pub, engineLogger.Named(fmt.Sprintf("RefreshEngine-%d", id)))
	}, engineLogger)

	// 3. Background jobs
	jobs := scheduler.NewScheduler(refresher, tierManager, scheduler.Cadences{
		DailyReference:  cfg.DailyCadence(),
		MinuteReference: cfg.MinuteCadence(),
		Tiering:         cfg.TieringInterval(),
	}, logger.NewLogger(cfg.MConfig, "Scheduler"))
	if err := jobs.Start(ctx); err != nil {
		appLogger.Critical("Failed to start scheduler: %v", err)
		return err
	}
	defer jobs.Stop()

	// 4. Workers and servers
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})

	if cfg.Feed.Enabled {
		feedLogger := logger.NewLogger(cfg.MConfig, "Feed")
		client := feed.NewClient(cfg.FeedRequestTimeout(), cfg.Feed.MaxRetries, cfg.Feed.UserAgent, cfg.Feed.Proxies, feedLogger.Named("FeedClient"))
		poller := feed.NewPoller(client, cfg.Feed.BaseURL, db, pipeline, calendar, cfg.Feed.Concurrency, cfg.FeedPollInterval(), feedLogger)
		poller.Extra = []string{cfg.Refresh.Benchmark}
		g.Go(func() error {
			return poller.Run(gctx)
		})
	}

	srv := server.NewAPIServer(cfg.MConfig, db, pipeline, logger.NewLogger(cfg.MConfig, "APIServer"))
	srv.Workers = pool
	startServers(gctx, g, srv, db, cfg, appLogger)

	appLogger.Info("%s running with %d refresh workers on %s storage", cfg.Name, len(pool.Engines), cfg.Storage.DBType)
	if err := g.Wait(); err != nil {
		appLogger.Error("Shutting down after failure: %v", err)
		return err
	}
	appLogger.Info("Shutdown complete")
	return nil
}
