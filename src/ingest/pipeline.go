// Package ingest appends incoming bars and propagates their consequences:
// session rollups and staleness marks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"screener-engine/src/helpers"
	"screener-engine/src/interfaces"
	"screener-engine/src/logger"
	"screener-engine/src/models"
	"screener-engine/src/sessions"
)

// Result summarizes one Ingest call.
type Result struct {
	Received int      `json:"received"`
	Inserted int      `json:"inserted"`
	Dirty    []string `json:"dirty"`
}

// Pipeline is the single entry point for new bars and instrument metadata.
type Pipeline struct {
	Bars      interfaces.IBarStore
	Directory interfaces.IInstrumentDirectory
	Staleness interfaces.IStalenessIndex
	Rollups   *sessions.Maintainer
	Publisher interfaces.IRowPublisher
	Logger    *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPipeline(db interfaces.IDatabase, bars interfaces.IBarStore, rollups *sessions.Maintainer, pub interfaces.IRowPublisher, log *logger.Logger) *Pipeline {
	return &Pipeline{
		Bars:      bars,
		Directory: db,
		Staleness: db,
		Rollups:   rollups,
		Publisher: pub,
		Logger:    log,
	}
}

// -----------------------------------------------------------------------------

// Ingest appends bars, marks the affected active instruments dirty and folds
// newly inserted minute bars into their session rollups. Bars already stored
// are ignored entirely. A rollup error is returned after the marks landed.
func (p *Pipeline) Ingest(ctx context.Context, bars []models.MBar) (Result, error) {
	res := Result{Received: len(bars)}
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return res, helpers.NewValidationError("invalid bar", err)
		}
	}

	inserted, err := p.Bars.AppendBars(ctx, bars)
	if err != nil {
		return res, err
	}
	res.Inserted = len(inserted)
	if len(inserted) == 0 {
		return res, nil
	}

	// Stored bars are marked before the rollup work so a rollup failure
	// never leaves an instrument fresh behind new bars.
	seen := make(map[string]bool)
	for _, b := range inserted {
		seen[b.Symbol] = true
	}
	dirty, err := p.active(ctx, seen)
	if err != nil {
		return res, errors.Join(err, p.updateRollups(ctx, inserted))
	}
	if len(dirty) > 0 {
		if err := p.Staleness.MarkDirty(ctx, dirty); err != nil {
			return res, errors.Join(err, p.updateRollups(ctx, inserted))
		}
	}
	res.Dirty = dirty

	return res, p.updateRollups(ctx, inserted)
}

// -----------------------------------------------------------------------------

// updateRollups merges each bar into its rollup. A rollup whose merge fails
// is rebuilt from the stored bars instead, which also covers the failed bar.
func (p *Pipeline) updateRollups(ctx context.Context, bars []models.MBar) error {
	if p.Rollups == nil {
		return nil
	}

	broken := make(map[models.MSessionKey]bool)
	for _, b := range bars {
		key, ok := p.Rollups.KeyFor(b)
		if !ok || broken[key] {
			continue
		}
		if _, err := p.Rollups.OnBar(ctx, b); err != nil {
			if p.Logger != nil {
				p.Logger.Warning("%v; rebuilding", err)
			}
			broken[key] = true
		}
	}

	var errs []error
	for key := range broken {
		if _, err := p.Rollups.Rebuild(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("rebuild %s %s %s: %w", key.Symbol, key.Day, key.Session, err))
		}
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------

// active keeps the symbols that belong to the active universe, sorted.
func (p *Pipeline) active(ctx context.Context, symbols map[string]bool) ([]string, error) {
	out := make([]string, 0, len(symbols))
	for symbol := range symbols {
		inst, err := p.Directory.GetInstrument(ctx, symbol)
		switch {
		case errors.Is(err, helpers.ErrNotFound):
			continue
		case err != nil:
			return nil, err
		}
		if inst.Active {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out, nil
}

// -----------------------------------------------------------------------------

// RegisterInstruments upserts directory entries and marks the active ones
// dirty so their rows pick up the new metadata.
func (p *Pipeline) RegisterInstruments(ctx context.Context, instruments []models.MInstrument) error {
	if err := p.Directory.UpsertInstruments(ctx, instruments); err != nil {
		return err
	}

	var dirty []string
	for _, inst := range instruments {
		if inst.Active {
			dirty = append(dirty, inst.Symbol)
		}
	}
	if len(dirty) == 0 {
		return nil
	}
	return p.Staleness.MarkDirty(ctx, dirty)
}

// -----------------------------------------------------------------------------

// Deactivate removes an instrument from the universe, its stored row and its
// published copy.
func (p *Pipeline) Deactivate(ctx context.Context, symbol string) error {
	if err := p.Directory.DeactivateInstrument(ctx, symbol); err != nil {
		return err
	}
	if p.Publisher != nil {
		if err := p.Publisher.RemoveRow(ctx, symbol); err != nil && p.Logger != nil {
			p.Logger.Warning("unpublish %s: %v", symbol, err)
		}
	}
	return nil
}
