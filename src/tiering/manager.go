// Package tiering moves aging bars from the hot store into the archive,
// drops bars past their retention and prunes old session rollups.
package tiering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"screener-engine/src/logger"
	"screener-engine/src/models"
	"screener-engine/src/sessions"
	"screener-engine/src/storage"
)

// Report summarizes one tiering run.
type Report struct {
	Compressed map[models.Resolution]int
	Dropped    map[models.Resolution]int64
	Pruned     int64
}

// Manager applies per-resolution retention policies.
type Manager struct {
	Store    *storage.TieredBarStore
	Rollups  *sessions.Maintainer
	Policies map[models.Resolution]models.MRetention
	Logger   *logger.Logger
}

// -----------------------------------------------------------------------------

func NewManager(store *storage.TieredBarStore, rollups *sessions.Maintainer, policies map[models.Resolution]models.MRetention, log *logger.Logger) *Manager {
	m := &Manager{
		Store:    store,
		Rollups:  rollups,
		Policies: policies,
		Logger:   log,
	}
	m.checkHorizons()
	return m
}

// -----------------------------------------------------------------------------

// checkHorizons warns when a finer resolution is kept longer than a coarser
// one. Such policies are legal, just unusual.
func (m *Manager) checkHorizons() {
	if m.Logger == nil {
		return
	}
	var finer models.Resolution
	var finerRetain time.Duration
	for _, res := range models.AllResolutions {
		p, ok := m.Policies[res]
		if !ok {
			continue
		}
		if finer != "" && p.RetainFor != 0 && (finerRetain == 0 || finerRetain > p.RetainFor) {
			m.Logger.Warning("%s bars outlive %s bars (%v vs %v, 0 = forever)", finer, res, finerRetain, p.RetainFor)
		}
		finer, finerRetain = res, p.RetainFor
	}
}

// -----------------------------------------------------------------------------

// Run compresses then drops every configured resolution relative to now,
// then prunes session rollups. A failing resolution does not stop the
// others; all failures are returned joined.
func (m *Manager) Run(ctx context.Context, now time.Time) (Report, error) {
	report := Report{
		Compressed: make(map[models.Resolution]int),
		Dropped:    make(map[models.Resolution]int64),
	}
	var errs []error

	for _, res := range models.AllResolutions {
		policy, ok := m.Policies[res]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		moved, err := m.Store.Compress(ctx, res, now.Add(-policy.CompressAfter))
		report.Compressed[res] = moved
		if err != nil {
			errs = append(errs, fmt.Errorf("compress %s: %w", res, err))
			continue
		}

		if policy.RetainFor > 0 {
			dropped, err := m.Store.Drop(ctx, res, now.Add(-policy.RetainFor))
			report.Dropped[res] = dropped
			if err != nil {
				errs = append(errs, fmt.Errorf("drop %s: %w", res, err))
				continue
			}
		}

		if m.Logger != nil && (moved > 0 || report.Dropped[res] > 0) {
			m.Logger.Info("%s bars: %d compressed, %d dropped", res, moved, report.Dropped[res])
		}
	}

	if m.Rollups != nil {
		pruned, err := m.Rollups.Prune(ctx, now)
		report.Pruned = pruned
		if err != nil {
			errs = append(errs, fmt.Errorf("prune rollups: %w", err))
		}
	}
	return report, errors.Join(errs...)
}
