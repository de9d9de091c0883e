package reference

import (
	"context"
	"time"

	"screener-engine/src/analysis/core"
	"screener-engine/src/models"

	"github.com/guregu/null/v6"
)

const (
	trailingDailyBars = 200
	averageShort      = 14
	averageLong       = 30
	volatilityWeek    = 7
	volatilityMonth   = 30
)

// -----------------------------------------------------------------------------

// closeAt is the close of the last bar at or before at.
func (r *Refresher) closeAt(ctx context.Context, symbol string, res models.Resolution, at time.Time) (null.Float, error) {
	b, err := r.Bars.LatestBar(ctx, symbol, res, at)
	if err != nil || b == nil {
		return null.Float{}, err
	}
	return null.FloatFrom(b.Close), nil
}

// openFrom is the open of the first bar in [from, to].
func (r *Refresher) openFrom(ctx context.Context, symbol string, res models.Resolution, from, to time.Time) (null.Float, error) {
	b, err := r.Bars.EarliestBar(ctx, symbol, res, from, to)
	if err != nil || b == nil {
		return null.Float{}, err
	}
	return null.FloatFrom(b.Open), nil
}

// -----------------------------------------------------------------------------

// ComputeDaily builds the daily reference row of symbol as of now. Daily bars
// are stamped at exchange-local midnight of their trading day; windowed
// statistics use completed days only.
func (r *Refresher) ComputeDaily(ctx context.Context, symbol string, now time.Time) (models.MDailyReference, error) {
	ref := models.MDailyReference{Symbol: symbol, ComputedAt: now}
	day := models.ResolutionDay
	beforeToday := r.Calendar.StartOfDay(now).Add(-time.Nanosecond)

	var err error
	if ref.PrevClose, err = r.closeAt(ctx, symbol, day, beforeToday); err != nil {
		return ref, err
	}

	offsets := []struct {
		dst                 *null.Float
		years, months, days int
	}{
		{&ref.Close1d, 0, 0, -1},
		{&ref.Close1w, 0, 0, -7},
		{&ref.Close1m, 0, -1, 0},
		{&ref.Close3m, 0, -3, 0},
		{&ref.Close6m, 0, -6, 0},
		{&ref.Close1y, -1, 0, 0},
		{&ref.Close5y, -5, 0, 0},
		{&ref.Close10y, -10, 0, 0},
	}
	for _, o := range offsets {
		if *o.dst, err = r.closeAt(ctx, symbol, day, now.AddDate(o.years, o.months, o.days)); err != nil {
			return ref, err
		}
	}

	local := now.In(r.Calendar.Location())
	yearStart := time.Date(local.Year(), time.January, 1, 0, 0, 0, 0, r.Calendar.Location())
	if ref.OpenYTD, err = r.openFrom(ctx, symbol, day, yearStart, now); err != nil {
		return ref, err
	}
	if ref.OpenAllTime, err = r.openFrom(ctx, symbol, day, time.Time{}, now); err != nil {
		return ref, err
	}

	year, err := r.Bars.RangeBars(ctx, symbol, day, now.AddDate(-1, 0, 0), beforeToday)
	if err != nil {
		return ref, err
	}
	highs := make([]float64, len(year))
	lows := make([]float64, len(year))
	for i, b := range year {
		highs[i], lows[i] = b.High, b.Low
	}
	ref.High52w, ref.Low52w = core.Extremes(highs, lows)

	trailing, err := r.Bars.LastBars(ctx, symbol, day, beforeToday, trailingDailyBars)
	if err != nil {
		return ref, err
	}
	closes := core.Closes(trailing)
	volumes := core.Volumes(trailing)
	dollars := core.DollarVolumes(trailing)

	ref.MA50 = core.MovingAverage(closes, 50)
	ref.MA200 = core.MovingAverage(closes, 200)
	ref.Volatility1w = core.RealizedVolatility(closes, volatilityWeek)
	ref.Volatility1m = core.RealizedVolatility(closes, volatilityMonth)
	ref.AvgVolume14 = core.Mean(volumes, averageShort)
	ref.AvgDollarVolume14 = core.Mean(dollars, averageShort)
	ref.AvgVolume30 = core.Mean(volumes, averageLong)
	ref.AvgDollarVolume30 = core.Mean(dollars, averageLong)
	return ref, nil
}

// -----------------------------------------------------------------------------

// ComputeMinute builds the minute reference row of symbol as of now.
func (r *Refresher) ComputeMinute(ctx context.Context, symbol string, now time.Time) (models.MMinuteReference, error) {
	ref := models.MMinuteReference{Symbol: symbol, ComputedAt: now}
	minute := models.ResolutionMinute

	var err error
	for _, o := range []struct {
		dst *null.Float
		ago time.Duration
	}{
		{&ref.Close1m, time.Minute},
		{&ref.Close15m, 15 * time.Minute},
		{&ref.Close1h, time.Hour},
		{&ref.Close4h, 4 * time.Hour},
	} {
		if *o.dst, err = r.closeAt(ctx, symbol, minute, now.Add(-o.ago)); err != nil {
			return ref, err
		}
	}

	hour, err := r.Bars.RangeBars(ctx, symbol, minute, now.Add(-time.Hour), now)
	if err != nil {
		return ref, err
	}
	ref.High1h, ref.Low1h = extremesSince(hour, now.Add(-time.Hour))
	ref.High15m, ref.Low15m = extremesSince(hour, now.Add(-15*time.Minute))

	trailing, err := r.Bars.LastBars(ctx, symbol, minute, now, averageShort)
	if err != nil {
		return ref, err
	}
	ref.AvgVolume14 = core.Mean(core.Volumes(trailing), averageShort)
	ref.AvgDollarVolume14 = core.Mean(core.DollarVolumes(trailing), averageShort)
	return ref, nil
}

// extremesSince is the high/low of the bars at or after from.
func extremesSince(bars []models.MBar, from time.Time) (null.Float, null.Float) {
	var highs, lows []float64
	for _, b := range bars {
		if b.Timestamp.Before(from) {
			continue
		}
		highs = append(highs, b.High)
		lows = append(lows, b.Low)
	}
	return core.Extremes(highs, lows)
}
