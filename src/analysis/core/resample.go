package core

import (
	"sort"
	"time"

	"screener-engine/src/models"
)

// -----------------------------------------------------------------------------

// WindowStart aligns ts to the start of its window, counted from the Unix
// epoch.
func WindowStart(ts time.Time, window time.Duration) time.Time {
	return ts.Truncate(window)
}

// -----------------------------------------------------------------------------

// ResampleBars folds bars into consecutive windows of the given width. Each
// output bar is stamped at its window start and carries res; empty windows
// produce no bar. Input order does not matter.
func ResampleBars(bars []models.MBar, window time.Duration, res models.Resolution) []models.MBar {
	if len(bars) == 0 || window <= 0 {
		return nil
	}

	sorted := make([]models.MBar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var out []models.MBar
	for lo := 0; lo < len(sorted); {
		start := WindowStart(sorted[lo].Timestamp, window)
		end := start.Add(window)
		hi := lo + sort.Search(len(sorted)-lo, func(i int) bool {
			return !sorted[lo+i].Timestamp.Before(end)
		})

		agg, _ := ComputeOHLCV(sorted[lo:hi])
		out = append(out, models.MBar{
			Symbol:     sorted[lo].Symbol,
			Resolution: res,
			Timestamp:  start,
			Open:       agg.Open,
			High:       agg.High,
			Low:        agg.Low,
			Close:      agg.Close,
			Volume:     agg.Volume,
		})
		lo = hi
	}
	return out
}
