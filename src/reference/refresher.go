// Package reference computes the daily and minute reference caches of the
// active universe.
package reference

import (
	"context"
	"time"

	"screener-engine/src/interfaces"
	"screener-engine/src/logger"
	"screener-engine/src/models"
	"screener-engine/src/utils"

	"golang.org/x/sync/errgroup"
)

// Refresher recomputes reference rows in bulk. It is the only writer of the
// reference caches.
type Refresher struct {
	Bars        interfaces.IBarStore
	Directory   interfaces.IInstrumentDirectory
	Refs        interfaces.IReferenceStore
	Staleness   interfaces.IStalenessIndex
	Calendar    *utils.TradingCalendar
	Logger      *logger.Logger
	Concurrency int

	// Benchmark gets references even when it is not an active instrument.
	Benchmark string

	Now func() time.Time
}

// -----------------------------------------------------------------------------

func NewRefresher(db interfaces.IDatabase, bars interfaces.IBarStore, cal *utils.TradingCalendar, cfg *models.MConfig, log *logger.Logger) *Refresher {
	return &Refresher{
		Bars:        bars,
		Directory:   db,
		Refs:        db,
		Staleness:   db,
		Calendar:    cal,
		Logger:      log,
		Concurrency: cfg.Reference.Concurrency,
		Benchmark:   cfg.Refresh.Benchmark,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// -----------------------------------------------------------------------------

// RefreshDaily recomputes every daily reference row against one now.
func (r *Refresher) RefreshDaily(ctx context.Context) (int, error) {
	return r.RefreshDailyAt(ctx, r.Now())
}

func (r *Refresher) RefreshDailyAt(ctx context.Context, now time.Time) (int, error) {
	return refresh(ctx, r, "daily", now, r.ComputeDaily, r.Refs.UpsertDailyReferences)
}

// RefreshMinute recomputes every minute reference row against one now.
func (r *Refresher) RefreshMinute(ctx context.Context) (int, error) {
	return r.RefreshMinuteAt(ctx, r.Now())
}

func (r *Refresher) RefreshMinuteAt(ctx context.Context, now time.Time) (int, error) {
	return refresh(ctx, r, "minute", now, r.ComputeMinute, r.Refs.UpsertMinuteReferences)
}

// -----------------------------------------------------------------------------

// refresh computes one row per instrument of the universe, writes them in a
// single bulk call and marks the refreshed active instruments dirty. An
// instrument whose computation fails is logged and left out.
func refresh[T any](
	ctx context.Context,
	r *Refresher,
	kind string,
	now time.Time,
	compute func(context.Context, string, time.Time) (T, error),
	store func(context.Context, []T) error,
) (int, error) {
	active, err := r.Directory.ListActiveInstruments(ctx)
	if err != nil {
		return 0, err
	}

	symbols := make([]string, 0, len(active)+1)
	isActive := make(map[string]bool, len(active))
	for _, inst := range active {
		symbols = append(symbols, inst.Symbol)
		isActive[inst.Symbol] = true
	}
	if r.Benchmark != "" && !isActive[r.Benchmark] {
		symbols = append(symbols, r.Benchmark)
	}

	results := make([]*T, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Concurrency, 1))
	for i, symbol := range symbols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row, err := compute(gctx, symbol, now)
			if err != nil {
				if r.Logger != nil {
					r.Logger.Warning("%s reference for %s skipped: %v", kind, symbol, err)
				}
				return nil
			}
			results[i] = &row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	rows := make([]T, 0, len(results))
	var dirty []string
	for i, row := range results {
		if row == nil {
			continue
		}
		rows = append(rows, *row)
		if isActive[symbols[i]] {
			dirty = append(dirty, symbols[i])
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := store(ctx, rows); err != nil {
		return 0, err
	}
	if err := r.Staleness.MarkDirty(ctx, dirty); err != nil {
		return len(rows), err
	}

	if r.Logger != nil {
		r.Logger.Info("refreshed %d %s references", len(rows), kind)
	}
	return len(rows), nil
}
