package core

import (
	"math"

	"screener-engine/src/models"

	"github.com/guregu/null/v6"
)

// -----------------------------------------------------------------------------

// SafeDiv divides num by den. Missing inputs, a zero denominator and
// non-finite results all yield null, never a panic or Inf.
func SafeDiv(num, den null.Float) null.Float {
	if !num.Valid || !den.Valid || den.Float64 == 0 {
		return null.Float{}
	}
	return finite(num.Float64 / den.Float64)
}

// -----------------------------------------------------------------------------

// PercentChange returns (current - previous) / previous in percent.
func PercentChange(current, previous null.Float) null.Float {
	if !current.Valid || !previous.Valid {
		return null.Float{}
	}
	ratio := SafeDiv(null.FloatFrom(current.Float64-previous.Float64), previous)
	return scale(ratio, 100)
}

// -----------------------------------------------------------------------------

// RangePercent returns the high-low spread relative to low, in percent.
func RangePercent(high, low null.Float) null.Float {
	if !high.Valid || !low.Valid {
		return null.Float{}
	}
	return scale(SafeDiv(null.FloatFrom(high.Float64-low.Float64), low), 100)
}

// -----------------------------------------------------------------------------

// Beta is the ratio of the instrument's simple return to the benchmark's
// simple return over the same horizon. Any missing endpoint yields null.
func Beta(price, priceThen, benchmark, benchmarkThen null.Float) null.Float {
	ret := SafeDiv(price, priceThen)
	benchRet := SafeDiv(benchmark, benchmarkThen)
	if !ret.Valid || !benchRet.Valid {
		return null.Float{}
	}
	return SafeDiv(null.FloatFrom(ret.Float64-1), null.FloatFrom(benchRet.Float64-1))
}

// -----------------------------------------------------------------------------

// OHLCV is the aggregate of a run of bars.
type OHLCV struct {
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	DollarVolume float64
}

// ComputeOHLCV aggregates bars in any order; open and close come from the
// earliest and latest bar. ok is false for no bars.
func ComputeOHLCV(bars []models.MBar) (agg OHLCV, ok bool) {
	if len(bars) == 0 {
		return OHLCV{}, false
	}

	first, last := bars[0], bars[0]
	agg = OHLCV{
		High: math.Inf(-1),
		Low:  math.Inf(1),
	}
	for _, b := range bars {
		if b.Timestamp.Before(first.Timestamp) {
			first = b
		}
		if b.Timestamp.After(last.Timestamp) {
			last = b
		}
		agg.High = math.Max(agg.High, b.High)
		agg.Low = math.Min(agg.Low, b.Low)
		agg.Volume += b.Volume
		agg.DollarVolume += b.Volume * b.Close
	}
	agg.Open, agg.Close = first.Open, last.Close
	return agg, true
}

// -----------------------------------------------------------------------------

// Closes extracts close prices.
func Closes(bars []models.MBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts volumes.
func Volumes(bars []models.MBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// DollarVolumes extracts volume * close per bar.
func DollarVolumes(bars []models.MBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume * b.Close
	}
	return out
}

// -----------------------------------------------------------------------------

func finite(v float64) null.Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return null.Float{}
	}
	return null.FloatFrom(v)
}

func scale(v null.Float, k float64) null.Float {
	if !v.Valid {
		return v
	}
	return finite(v.Float64 * k)
}
