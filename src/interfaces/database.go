package interfaces

import (
	"context"
	"time"

	"screener-engine/src/models"
)

// -----------------------------------------------------------------------------
// IInstrumentDirectory holds instrument metadata and the active universe.
// -----------------------------------------------------------------------------

type IInstrumentDirectory interface {
	UpsertInstruments(ctx context.Context, instruments []models.MInstrument) error

	// GetInstrument returns helpers.ErrNotFound for unknown symbols.
	GetInstrument(ctx context.Context, symbol string) (*models.MInstrument, error)

	ListActiveInstruments(ctx context.Context) ([]models.MInstrument, error)

	// DeactivateInstrument removes the symbol from the universe along with its
	// screener row, references and staleness entry.
	DeactivateInstrument(ctx context.Context, symbol string) error
}

// -----------------------------------------------------------------------------
// IStalenessIndex tracks which instruments need their row recomputed.
// -----------------------------------------------------------------------------

type IStalenessIndex interface {

	// MarkDirty creates missing entries as dirty and moves fresh->dirty,
	// claimed->claimed_dirty.
	MarkDirty(ctx context.Context, symbols []string) error

	// Claim takes up to limit dirty (or expired-claim) instruments, least
	// recently updated first. Instruments won by a concurrent claimer are
	// skipped, never shared.
	Claim(ctx context.Context, limit int, now time.Time, claimTimeout time.Duration) (*models.MClaim, error)

	// Release returns every instrument still held by the claim to dirty.
	Release(ctx context.Context, claim *models.MClaim) error

	// Forget deletes the entries of symbols still held by the claim.
	Forget(ctx context.Context, claim *models.MClaim, symbols []string) error

	GetStaleness(ctx context.Context, symbol string) (*models.MStalenessEntry, error)

	StalenessSummary(ctx context.Context) (map[models.StalenessState]int, error)
}

// -----------------------------------------------------------------------------
// IScreenerStore holds the denormalized rows.
// -----------------------------------------------------------------------------

type IScreenerStore interface {

	// CommitRows atomically writes the rows of instruments still held by the
	// claim and advances their staleness entries. It returns the committed
	// symbols; rows of instruments the claim no longer holds are discarded.
	CommitRows(ctx context.Context, claim *models.MClaim, rows []models.MScreenerRow, now time.Time) ([]string, error)

	// GetRow returns helpers.ErrNotFound when the symbol has no row yet.
	GetRow(ctx context.Context, symbol string) (*models.MScreenerRow, error)

	ListRows(ctx context.Context) ([]models.MScreenerRow, error)
}

// -----------------------------------------------------------------------------
// IReferenceStore holds the daily and minute reference caches.
// Getters return nil, nil when nothing has been computed yet.
// -----------------------------------------------------------------------------

type IReferenceStore interface {
	UpsertDailyReferences(ctx context.Context, refs []models.MDailyReference) error
	UpsertMinuteReferences(ctx context.Context, refs []models.MMinuteReference) error
	GetDailyReference(ctx context.Context, symbol string) (*models.MDailyReference, error)
	GetMinuteReference(ctx context.Context, symbol string) (*models.MMinuteReference, error)
}

// -----------------------------------------------------------------------------
// IRollupStore holds extended-hours session rollups.
// -----------------------------------------------------------------------------

type IRollupStore interface {

	// MergeRollup folds delta into the stored rollup of delta's key and
	// returns the result. The read-merge-write is atomic per key.
	MergeRollup(ctx context.Context, delta models.MSessionRollup) (*models.MSessionRollup, error)

	// PutRollup replaces the stored rollup of r's key.
	PutRollup(ctx context.Context, r models.MSessionRollup) error

	// GetRollup returns nil, nil when the session has no bars.
	GetRollup(ctx context.Context, key models.MSessionKey) (*models.MSessionRollup, error)

	// DeleteRollupsBefore removes rollups of trading days before day.
	DeleteRollupsBefore(ctx context.Context, day string) (int64, error)
}

// -----------------------------------------------------------------------------
// IDatabase defines the contract for storage operations.
// -----------------------------------------------------------------------------

type IDatabase interface {
	IHotBarStore
	IInstrumentDirectory
	IStalenessIndex
	IScreenerStore
	IReferenceStore
	IRollupStore

	// Initialize sets up the database schema and tables.
	Initialize(ctx context.Context) error

	Ping(ctx context.Context) error

	// Close the database connection
	Close() error
}
