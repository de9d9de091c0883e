package interfaces

import (
	"context"
	"time"

	"screener-engine/src/models"
)

// -----------------------------------------------------------------------------
// IBarStore is the read/write contract over bars of every resolution.
// Lookups return nil (not an error) when no bar matches.
// -----------------------------------------------------------------------------

type IBarStore interface {

	// AppendBars stores bars, ignoring ones whose key already exists, and
	// returns the bars that were actually inserted.
	AppendBars(ctx context.Context, bars []models.MBar) ([]models.MBar, error)

	// LatestBar returns the last bar at or before at.
	LatestBar(ctx context.Context, symbol string, res models.Resolution, at time.Time) (*models.MBar, error)

	// LastBars returns up to n bars at or before at, oldest first.
	LastBars(ctx context.Context, symbol string, res models.Resolution, at time.Time, n int) ([]models.MBar, error)

	// RangeBars returns bars with from <= ts <= to, oldest first.
	RangeBars(ctx context.Context, symbol string, res models.Resolution, from, to time.Time) ([]models.MBar, error)

	// EarliestBar returns the first bar with from <= ts <= to.
	EarliestBar(ctx context.Context, symbol string, res models.Resolution, from, to time.Time) (*models.MBar, error)
}

// -----------------------------------------------------------------------------
// IHotBarStore is a bar store that can hand its old bars to an archive.
// -----------------------------------------------------------------------------

type IHotBarStore interface {
	IBarStore

	// BarsBefore returns every bar of res older than cutoff.
	BarsBefore(ctx context.Context, res models.Resolution, cutoff time.Time) ([]models.MBar, error)

	// DeleteBars removes exactly the given keys.
	DeleteBars(ctx context.Context, res models.Resolution, bars []models.MBar) error

	// DeleteBarsBefore removes every bar of res older than cutoff.
	DeleteBarsBefore(ctx context.Context, res models.Resolution, cutoff time.Time) (int64, error)
}
