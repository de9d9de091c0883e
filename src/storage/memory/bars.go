package memory

import (
	"context"
	"sort"
	"time"

	"screener-engine/src/helpers"
	"screener-engine/src/models"
)

// -----------------------------------------------------------------------------

func (d *MemoryDB) AppendBars(ctx context.Context, bars []models.MBar) ([]models.MBar, error) {
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return nil, helpers.NewValidationError("append bars", err)
		}
	}

	d.barsMu.Lock()
	defer d.barsMu.Unlock()

	var inserted []models.MBar
	for _, b := range bars {
		series := d.bars[b.Resolution][b.Symbol]
		i := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(b.Timestamp) })
		if i < len(series) && series[i].Timestamp.Equal(b.Timestamp) {
			continue
		}
		series = append(series, models.MBar{})
		copy(series[i+1:], series[i:])
		series[i] = b
		d.bars[b.Resolution][b.Symbol] = series
		inserted = append(inserted, b)
	}
	return inserted, nil
}

// -----------------------------------------------------------------------------

// window returns the index range [lo, hi) of bars with from <= ts <= to.
func window(series []models.MBar, from, to time.Time) (int, int) {
	lo := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(from) })
	hi := sort.Search(len(series), func(i int) bool { return series[i].Timestamp.After(to) })
	return lo, hi
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) LatestBar(ctx context.Context, symbol string, res models.Resolution, at time.Time) (*models.MBar, error) {
	d.barsMu.RLock()
	defer d.barsMu.RUnlock()

	series := d.bars[res][symbol]
	_, hi := window(series, time.Time{}, at)
	if hi == 0 {
		return nil, nil
	}
	b := series[hi-1]
	return &b, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) EarliestBar(ctx context.Context, symbol string, res models.Resolution, from, to time.Time) (*models.MBar, error) {
	d.barsMu.RLock()
	defer d.barsMu.RUnlock()

	series := d.bars[res][symbol]
	lo, hi := window(series, from, to)
	if lo >= hi {
		return nil, nil
	}
	b := series[lo]
	return &b, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) LastBars(ctx context.Context, symbol string, res models.Resolution, at time.Time, n int) ([]models.MBar, error) {
	d.barsMu.RLock()
	defer d.barsMu.RUnlock()

	series := d.bars[res][symbol]
	_, hi := window(series, time.Time{}, at)
	lo := max(0, hi-n)
	if n <= 0 || lo >= hi {
		return nil, nil
	}
	return append([]models.MBar(nil), series[lo:hi]...), nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) RangeBars(ctx context.Context, symbol string, res models.Resolution, from, to time.Time) ([]models.MBar, error) {
	d.barsMu.RLock()
	defer d.barsMu.RUnlock()

	series := d.bars[res][symbol]
	lo, hi := window(series, from, to)
	if lo >= hi {
		return nil, nil
	}
	return append([]models.MBar(nil), series[lo:hi]...), nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) BarsBefore(ctx context.Context, res models.Resolution, cutoff time.Time) ([]models.MBar, error) {
	d.barsMu.RLock()
	defer d.barsMu.RUnlock()

	symbols := make([]string, 0, len(d.bars[res]))
	for symbol := range d.bars[res] {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var out []models.MBar
	for _, symbol := range symbols {
		series := d.bars[res][symbol]
		hi := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(cutoff) })
		out = append(out, series[:hi]...)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) DeleteBars(ctx context.Context, res models.Resolution, bars []models.MBar) error {
	d.barsMu.Lock()
	defer d.barsMu.Unlock()

	for _, b := range bars {
		series := d.bars[res][b.Symbol]
		i := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(b.Timestamp) })
		if i < len(series) && series[i].Timestamp.Equal(b.Timestamp) {
			d.bars[res][b.Symbol] = append(series[:i], series[i+1:]...)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) DeleteBarsBefore(ctx context.Context, res models.Resolution, cutoff time.Time) (int64, error) {
	d.barsMu.Lock()
	defer d.barsMu.Unlock()

	var n int64
	for symbol, series := range d.bars[res] {
		hi := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(cutoff) })
		if hi == 0 {
			continue
		}
		n += int64(hi)
		d.bars[res][symbol] = append([]models.MBar(nil), series[hi:]...)
	}
	return n, nil
}
