package memory

import (
	"context"
	"sort"
	"time"

	"screener-engine/src/helpers"
	"screener-engine/src/models"
)

// -----------------------------------------------------------------------------

func (d *MemoryDB) UpsertInstruments(ctx context.Context, instruments []models.MInstrument) error {
	d.instrumentsMu.Lock()
	defer d.instrumentsMu.Unlock()

	for _, inst := range instruments {
		if inst.Symbol == "" {
			return helpers.NewValidationError("instrument without symbol", nil)
		}
		if inst.UpdatedAt.IsZero() {
			inst.UpdatedAt = time.Now().UTC()
		}
		d.instruments[inst.Symbol] = inst
	}
	return nil
}

func (d *MemoryDB) GetInstrument(ctx context.Context, symbol string) (*models.MInstrument, error) {
	d.instrumentsMu.RLock()
	defer d.instrumentsMu.RUnlock()

	inst, ok := d.instruments[symbol]
	if !ok {
		return nil, helpers.ErrNotFound
	}
	return &inst, nil
}

func (d *MemoryDB) ListActiveInstruments(ctx context.Context) ([]models.MInstrument, error) {
	d.instrumentsMu.RLock()
	defer d.instrumentsMu.RUnlock()

	var out []models.MInstrument
	for _, inst := range d.instruments {
		if inst.Active {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) DeactivateInstrument(ctx context.Context, symbol string) error {
	d.instrumentsMu.Lock()
	inst, ok := d.instruments[symbol]
	if ok {
		inst.Active = false
		inst.UpdatedAt = time.Now().UTC()
		d.instruments[symbol] = inst
	}
	d.instrumentsMu.Unlock()
	if !ok {
		return helpers.ErrNotFound
	}

	d.rowsMu.Lock()
	delete(d.rows, symbol)
	d.rowsMu.Unlock()

	d.stalenessMu.Lock()
	delete(d.staleness, symbol)
	d.stalenessMu.Unlock()

	d.refsMu.Lock()
	delete(d.daily, symbol)
	delete(d.minute, symbol)
	d.refsMu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) GetRow(ctx context.Context, symbol string) (*models.MScreenerRow, error) {
	d.rowsMu.RLock()
	defer d.rowsMu.RUnlock()

	r, ok := d.rows[symbol]
	if !ok {
		return nil, helpers.ErrNotFound
	}
	return &r, nil
}

func (d *MemoryDB) ListRows(ctx context.Context) ([]models.MScreenerRow, error) {
	d.rowsMu.RLock()
	defer d.rowsMu.RUnlock()

	out := make([]models.MScreenerRow, 0, len(d.rows))
	for _, r := range d.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) UpsertDailyReferences(ctx context.Context, refs []models.MDailyReference) error {
	d.refsMu.Lock()
	defer d.refsMu.Unlock()
	for _, r := range refs {
		d.daily[r.Symbol] = r
	}
	return nil
}

func (d *MemoryDB) UpsertMinuteReferences(ctx context.Context, refs []models.MMinuteReference) error {
	d.refsMu.Lock()
	defer d.refsMu.Unlock()
	for _, r := range refs {
		d.minute[r.Symbol] = r
	}
	return nil
}

func (d *MemoryDB) GetDailyReference(ctx context.Context, symbol string) (*models.MDailyReference, error) {
	d.refsMu.RLock()
	defer d.refsMu.RUnlock()
	r, ok := d.daily[symbol]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (d *MemoryDB) GetMinuteReference(ctx context.Context, symbol string) (*models.MMinuteReference, error) {
	d.refsMu.RLock()
	defer d.refsMu.RUnlock()
	r, ok := d.minute[symbol]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) MergeRollup(ctx context.Context, delta models.MSessionRollup) (*models.MSessionRollup, error) {
	d.rollupsMu.Lock()
	defer d.rollupsMu.Unlock()

	merged := d.rollups[delta.MSessionKey].Merge(delta)
	d.rollups[delta.MSessionKey] = merged
	return &merged, nil
}

func (d *MemoryDB) PutRollup(ctx context.Context, r models.MSessionRollup) error {
	d.rollupsMu.Lock()
	defer d.rollupsMu.Unlock()
	d.rollups[r.MSessionKey] = r
	return nil
}

func (d *MemoryDB) GetRollup(ctx context.Context, key models.MSessionKey) (*models.MSessionRollup, error) {
	d.rollupsMu.Lock()
	defer d.rollupsMu.Unlock()
	r, ok := d.rollups[key]
	if !ok || r.BarCount == 0 {
		return nil, nil
	}
	return &r, nil
}

func (d *MemoryDB) DeleteRollupsBefore(ctx context.Context, day string) (int64, error) {
	d.rollupsMu.Lock()
	defer d.rollupsMu.Unlock()

	var n int64
	for key := range d.rollups {
		if key.Day < day {
			delete(d.rollups, key)
			n++
		}
	}
	return n, nil
}
