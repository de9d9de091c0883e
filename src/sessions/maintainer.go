// Package sessions keeps the pre-market and after-hours aggregates of every
// instrument up to date as minute bars arrive.
package sessions

import (
	"context"
	"fmt"
	"time"

	"screener-engine/src/interfaces"
	"screener-engine/src/logger"
	"screener-engine/src/models"
	"screener-engine/src/utils"
)

// Maintainer folds minute bars into session rollups.
type Maintainer struct {
	Store    interfaces.IRollupStore
	Bars     interfaces.IBarStore
	Calendar *utils.TradingCalendar
	Logger   *logger.Logger

	// RetainDays is the number of trading days, today included, Prune keeps.
	RetainDays int
}

// -----------------------------------------------------------------------------

func NewMaintainer(store interfaces.IRollupStore, bars interfaces.IBarStore, cal *utils.TradingCalendar, retainDays int, log *logger.Logger) *Maintainer {
	return &Maintainer{
		Store:      store,
		Bars:       bars,
		Calendar:   cal,
		Logger:     log,
		RetainDays: retainDays,
	}
}

// -----------------------------------------------------------------------------

// KeyFor returns the rollup key a bar contributes to. ok is false for
// non-minute bars and bars outside the extended sessions.
func (m *Maintainer) KeyFor(bar models.MBar) (key models.MSessionKey, ok bool) {
	if bar.Resolution != models.ResolutionMinute {
		return key, false
	}
	session := m.Calendar.Classify(bar.Timestamp)
	if !session.IsExtended() {
		return key, false
	}
	return models.MSessionKey{
		Symbol:  bar.Symbol,
		Day:     m.Calendar.DayKey(bar.Timestamp),
		Session: session,
	}, true
}

// -----------------------------------------------------------------------------

// OnBar merges one newly stored minute bar into its session rollup. It
// reports whether the bar belonged to a session.
func (m *Maintainer) OnBar(ctx context.Context, bar models.MBar) (bool, error) {
	key, ok := m.KeyFor(bar)
	if !ok {
		return false, nil
	}
	if _, err := m.Store.MergeRollup(ctx, models.RollupFromBar(key, bar)); err != nil {
		return true, fmt.Errorf("merge %s %s %s: %w", key.Symbol, key.Day, key.Session, err)
	}
	return true, nil
}

// -----------------------------------------------------------------------------

// Rebuild recomputes a rollup from the stored minute bars of its window,
// replacing whatever was merged before.
func (m *Maintainer) Rebuild(ctx context.Context, key models.MSessionKey) (*models.MSessionRollup, error) {
	day, err := m.Calendar.ParseDay(key.Day)
	if err != nil {
		return nil, fmt.Errorf("rebuild %s: %w", key.Day, err)
	}
	start, end := m.Calendar.SessionWindow(day, key.Session)
	if !end.After(start) {
		return nil, fmt.Errorf("rebuild %s: session %s has no window", key.Day, key.Session)
	}

	bars, err := m.Bars.RangeBars(ctx, key.Symbol, models.ResolutionMinute, start, end.Add(-time.Nanosecond))
	if err != nil {
		return nil, err
	}

	var rollup models.MSessionRollup
	rollup.MSessionKey = key
	for _, b := range bars {
		rollup = rollup.Merge(models.RollupFromBar(key, b))
	}
	if err := m.Store.PutRollup(ctx, rollup); err != nil {
		return nil, err
	}
	if rollup.BarCount == 0 {
		return nil, nil
	}
	return &rollup, nil
}

// -----------------------------------------------------------------------------

// Prune drops rollups of trading days older than the retention horizon.
func (m *Maintainer) Prune(ctx context.Context, now time.Time) (int64, error) {
	keep := max(m.RetainDays, 1)
	oldest := m.Calendar.TradingDaysBack(now, keep-1)

	n, err := m.Store.DeleteRollupsBefore(ctx, m.Calendar.DayKey(oldest))
	if err != nil {
		return 0, err
	}
	if n > 0 && m.Logger != nil {
		m.Logger.Debug("pruned %d session rollups before %s", n, m.Calendar.DayKey(oldest))
	}
	return n, nil
}
