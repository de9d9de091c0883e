package main

import (
	"context"
	"time"

	"screener-engine/src/config"
	"screener-engine/src/helpers"
	"screener-engine/src/interfaces"
	"screener-engine/src/logger"
	"screener-engine/src/publish"
	"screener-engine/src/storage"
	"screener-engine/src/storage/archive"
	"screener-engine/src/storage/memory"
)

const (
	dbConnectRetries = 5
	dbConnectDelay   = 500 * time.Millisecond
)

// -----------------------------------------------------------------------------

// setupDatabase opens the configured backend and creates its schema, retrying
// while the server is still coming up.
func setupDatabase(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) (interfaces.IDatabase, error) {
	var db interfaces.IDatabase

	err := helpers.RetryWithBackoff(ctx, appLogger, "connect database", dbConnectRetries, dbConnectDelay, func() error {
		var err error
		switch cfg.Storage.DBType {
		case "postgres":
			db, err = storage.NewPostgresDB(cfg.MConfig, logger.NewLogger(cfg.MConfig, "PostgresDB"))
		case "memory":
			db = memory.NewMemoryDB(cfg.MConfig, logger.NewLogger(cfg.MConfig, "MemoryDB"))
		default:
			db, err = storage.NewSQLiteDB(cfg.MConfig, logger.NewLogger(cfg.MConfig, "SQLiteDB"))
		}
		if err != nil {
			return err
		}
		if err := db.Initialize(ctx); err != nil {
			_ = db.Close()
			return err
		}
		return nil
	})
	if err != nil {
		appLogger.Critical("Failed to init db: %v", err)
		return nil, err
	}
	return db, nil
}

// -----------------------------------------------------------------------------

// setupBarStore layers the parquet archive under the hot store. Without an
// archive directory bars are never compressed, only dropped.
func setupBarStore(cfg *config.Config, db interfaces.IDatabase, appLogger *logger.Logger) (*storage.TieredBarStore, error) {
	if cfg.Storage.ArchiveDir == "" {
		appLogger.Warning("No archive directory configured, compression disabled")
		return storage.NewTieredBarStore(db, nil), nil
	}

	cold, err := archive.New(cfg.Storage.ArchiveDir)
	if err != nil {
		return nil, err
	}
	return storage.NewTieredBarStore(db, cold), nil
}

// -----------------------------------------------------------------------------

// setupPublisher returns nil when the Redis mirror is disabled.
func setupPublisher(cfg *config.Config, appLogger *logger.Logger) (interfaces.IRowPublisher, error) {
	if !cfg.Cache.RedisEnabled {
		return nil, nil
	}

	pub, err := publish.NewRedisPublisher(cfg.Cache, cfg.RowTTL())
	if err != nil {
		return nil, err
	}
	appLogger.Info("Publishing rows to Redis at %s", cfg.Cache.RedisAddr)
	return pub, nil
}
