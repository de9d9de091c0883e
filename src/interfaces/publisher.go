package interfaces

import (
	"context"

	"screener-engine/src/models"
)

// -----------------------------------------------------------------------------
// IRowPublisher pushes committed rows to downstream read caches.
// -----------------------------------------------------------------------------

type IRowPublisher interface {
	PublishRows(ctx context.Context, rows []models.MScreenerRow) error
	RemoveRow(ctx context.Context, symbol string) error
	Close() error
}
