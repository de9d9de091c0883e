package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"screener-engine/src/interfaces"
	"screener-engine/src/models"
	"screener-engine/src/storage/archive"
)

// TieredBarStore answers bar lookups across the hot store and the parquet
// archive so that compression never changes a lookup result. Writes always
// land in the hot tier.
type TieredBarStore struct {
	Hot     interfaces.IHotBarStore
	Archive *archive.Archive
}

// -----------------------------------------------------------------------------

func NewTieredBarStore(hot interfaces.IHotBarStore, cold *archive.Archive) *TieredBarStore {
	return &TieredBarStore{Hot: hot, Archive: cold}
}

// -----------------------------------------------------------------------------

// AppendBars writes bars to the hot tier. Bars whose key is already archived
// are duplicates and are neither stored nor reported as inserted.
func (s *TieredBarStore) AppendBars(ctx context.Context, bars []models.MBar) ([]models.MBar, error) {
	fresh, err := s.notArchived(bars)
	if err != nil {
		return nil, err
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	return s.Hot.AppendBars(ctx, fresh)
}

// -----------------------------------------------------------------------------

func (s *TieredBarStore) notArchived(bars []models.MBar) ([]models.MBar, error) {
	if s.Archive == nil || len(bars) == 0 {
		return bars, nil
	}

	type seriesKey struct {
		symbol string
		res    models.Resolution
	}
	archivedAt := make(map[seriesKey]map[int64]bool)
	out := make([]models.MBar, 0, len(bars))
	for _, b := range bars {
		k := seriesKey{b.Symbol, b.Resolution}
		stamps, loaded := archivedAt[k]
		if !loaded {
			first, last, ok, err := s.Archive.Bounds(b.Resolution, b.Symbol)
			if err != nil {
				return nil, err
			}
			if ok {
				cold, err := s.archived(b.Symbol, b.Resolution, first, last)
				if err != nil {
					return nil, err
				}
				stamps = make(map[int64]bool, len(cold))
				for _, c := range cold {
					stamps[c.Timestamp.Unix()] = true
				}
			}
			archivedAt[k] = stamps
		}
		if !stamps[b.Timestamp.Unix()] {
			out = append(out, b)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (s *TieredBarStore) LatestBar(ctx context.Context, symbol string, res models.Resolution, at time.Time) (*models.MBar, error) {
	hot, err := s.Hot.LatestBar(ctx, symbol, res, at)
	if err != nil || s.Archive == nil {
		return hot, err
	}

	first, last, ok, err := s.Archive.Bounds(res, symbol)
	if err != nil {
		return nil, err
	}
	// skip the archive when it holds nothing newer than the hot answer
	if !ok || first.After(at) || (hot != nil && !last.After(hot.Timestamp)) {
		return hot, nil
	}

	cold, err := s.archived(symbol, res, time.Time{}, at)
	if err != nil {
		return nil, err
	}
	if len(cold) == 0 {
		return hot, nil
	}
	newest := cold[len(cold)-1]
	if hot != nil && !newest.Timestamp.After(hot.Timestamp) {
		return hot, nil
	}
	return &newest, nil
}

// -----------------------------------------------------------------------------

func (s *TieredBarStore) EarliestBar(ctx context.Context, symbol string, res models.Resolution, from, to time.Time) (*models.MBar, error) {
	if s.Archive != nil {
		first, last, ok, err := s.Archive.Bounds(res, symbol)
		if err != nil {
			return nil, err
		}
		if ok && !first.After(to) && !last.Before(from) {
			cold, err := s.archived(symbol, res, from, to)
			if err != nil {
				return nil, err
			}
			if len(cold) > 0 {
				hot, err := s.Hot.EarliestBar(ctx, symbol, res, from, to)
				if err != nil {
					return nil, err
				}
				if hot != nil && hot.Timestamp.Before(cold[0].Timestamp) {
					return hot, nil
				}
				return &cold[0], nil
			}
		}
	}
	return s.Hot.EarliestBar(ctx, symbol, res, from, to)
}

// -----------------------------------------------------------------------------

func (s *TieredBarStore) RangeBars(ctx context.Context, symbol string, res models.Resolution, from, to time.Time) ([]models.MBar, error) {
	hot, err := s.Hot.RangeBars(ctx, symbol, res, from, to)
	if err != nil || s.Archive == nil {
		return hot, err
	}

	first, last, ok, err := s.Archive.Bounds(res, symbol)
	if err != nil {
		return nil, err
	}
	if !ok || first.After(to) || last.Before(from) {
		return hot, nil
	}

	cold, err := s.archived(symbol, res, from, to)
	if err != nil {
		return nil, err
	}
	return mergeBars(cold, hot), nil
}

// -----------------------------------------------------------------------------

func (s *TieredBarStore) LastBars(ctx context.Context, symbol string, res models.Resolution, at time.Time, n int) ([]models.MBar, error) {
	hot, err := s.Hot.LastBars(ctx, symbol, res, at, n)
	if err != nil || s.Archive == nil {
		return hot, err
	}

	first, last, ok, err := s.Archive.Bounds(res, symbol)
	if err != nil {
		return nil, err
	}
	if !ok || first.After(at) || (len(hot) >= n && !last.After(hot[0].Timestamp)) {
		return hot, nil
	}

	cold, err := s.archived(symbol, res, time.Time{}, at)
	if err != nil {
		return nil, err
	}
	merged := mergeBars(cold, hot)
	if len(merged) > n {
		merged = merged[len(merged)-n:]
	}
	return merged, nil
}

// -----------------------------------------------------------------------------

// Compress moves hot bars of res older than cutoff into the archive and
// deletes exactly the moved keys from the hot tier.
func (s *TieredBarStore) Compress(ctx context.Context, res models.Resolution, cutoff time.Time) (int, error) {
	if s.Archive == nil {
		return 0, nil
	}

	old, err := s.Hot.BarsBefore(ctx, res, cutoff)
	if err != nil || len(old) == 0 {
		return 0, err
	}

	bySymbol := make(map[string][]models.MBar)
	for _, b := range old {
		bySymbol[b.Symbol] = append(bySymbol[b.Symbol], b)
	}
	symbols := make([]string, 0, len(bySymbol))
	for symbol := range bySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	moved := 0
	for _, symbol := range symbols {
		bars := bySymbol[symbol]
		if err := s.Archive.Merge(res, symbol, bars); err != nil {
			return moved, fmt.Errorf("archive %s/%s: %w", res, symbol, err)
		}
		if err := s.Hot.DeleteBars(ctx, res, bars); err != nil {
			return moved, fmt.Errorf("evict %s/%s: %w", res, symbol, err)
		}
		moved += len(bars)
	}
	return moved, nil
}

// -----------------------------------------------------------------------------

// Drop permanently removes bars of res older than cutoff from both tiers.
func (s *TieredBarStore) Drop(ctx context.Context, res models.Resolution, cutoff time.Time) (int64, error) {
	n, err := s.Hot.DeleteBarsBefore(ctx, res, cutoff)
	if err != nil || s.Archive == nil {
		return n, err
	}
	cold, err := s.Archive.DropBefore(res, cutoff)
	return n + int64(cold), err
}

// -----------------------------------------------------------------------------

// archived loads archived bars with from <= ts <= to.
func (s *TieredBarStore) archived(symbol string, res models.Resolution, from, to time.Time) ([]models.MBar, error) {
	all, err := s.Archive.Load(res, symbol)
	if err != nil {
		return nil, err
	}
	lo := sort.Search(len(all), func(i int) bool { return !all[i].Timestamp.Before(from) })
	hi := sort.Search(len(all), func(i int) bool { return all[i].Timestamp.After(to) })
	if lo >= hi {
		return nil, nil
	}
	return all[lo:hi], nil
}

// -----------------------------------------------------------------------------

// mergeBars unions two time-sorted runs; on equal timestamps the hot bar wins.
func mergeBars(cold, hot []models.MBar) []models.MBar {
	out := make([]models.MBar, 0, len(cold)+len(hot))
	i, j := 0, 0
	for i < len(cold) && j < len(hot) {
		switch {
		case cold[i].Timestamp.Before(hot[j].Timestamp):
			out = append(out, cold[i])
			i++
		case hot[j].Timestamp.Before(cold[i].Timestamp):
			out = append(out, hot[j])
			j++
		default:
			out = append(out, hot[j])
			i++
			j++
		}
	}
	out = append(out, cold[i:]...)
	return append(out, hot[j:]...)
}
