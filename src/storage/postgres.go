package storage

import (
	"fmt"

	"screener-engine/src/logger"
	"screener-engine/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

// NewPostgresDB prepares a Postgres-backed store. Tables live in the
// configured schema; Initialize opens the connection.
func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*SQLDB, error) {
	if cfg.Storage.DBConnectionString == "" {
		return nil, fmt.Errorf("postgres connection string is empty")
	}

	return &SQLDB{
		Config:  cfg,
		Schema:  cfg.Storage.Schema,
		Logger:  log,
		dialect: postgresDialect,
		dsn:     cfg.Storage.DBConnectionString,
	}, nil
}
