package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"screener-engine/src/logger"
	"screener-engine/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

// NewSQLiteDB prepares an embedded SQLite store at Storage.DBPath.
func NewSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*SQLDB, error) {
	path := cfg.Storage.DBPath
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	return &SQLDB{
		Config:  cfg,
		Logger:  log,
		dialect: sqliteDialect,
		dsn:     path,
	}, nil
}
