package core

import (
	"github.com/guregu/null/v6"
	"gonum.org/v1/gonum/stat"
)

// Windowed statistics need a full window: fewer values than the window
// yields null rather than a value over a shorter span.

// -----------------------------------------------------------------------------

// Mean averages the last window values.
func Mean(values []float64, window int) null.Float {
	tail, ok := lastN(values, window)
	if !ok {
		return null.Float{}
	}
	return finite(stat.Mean(tail, nil))
}

// -----------------------------------------------------------------------------

// MovingAverage is the simple moving average of the last window closes.
func MovingAverage(closes []float64, window int) null.Float {
	return Mean(closes, window)
}

// -----------------------------------------------------------------------------

// RealizedVolatility is the sample standard deviation of the simple returns
// between the last window closes, in percent.
func RealizedVolatility(closes []float64, window int) null.Float {
	if window < 3 {
		return null.Float{}
	}
	tail, ok := lastN(closes, window)
	if !ok {
		return null.Float{}
	}

	returns := make([]float64, 0, len(tail)-1)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] <= 0 {
			return null.Float{}
		}
		returns = append(returns, tail[i]/tail[i-1]-1)
	}
	return finite(stat.StdDev(returns, nil) * 100)
}

// -----------------------------------------------------------------------------

// RSI is the Wilder relative strength index over period changes. The first
// average is the simple mean of the first period changes; later changes are
// smoothed with weight 1/period. It needs at least period+1 closes. A window
// with neither gains nor losses has no defined RSI.
func RSI(closes []float64, period int) null.Float {
	if period < 1 || len(closes) < period+1 {
		return null.Float{}
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := splitChange(closes[i] - closes[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		gain, loss := splitChange(closes[i] - closes[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	switch {
	case avgGain == 0 && avgLoss == 0:
		return null.Float{}
	case avgLoss == 0:
		return null.FloatFrom(100)
	}
	rs := avgGain / avgLoss
	return finite(100 - 100/(1+rs))
}

// -----------------------------------------------------------------------------

// Extremes returns the max of highs and min of lows.
func Extremes(highs, lows []float64) (high, low null.Float) {
	if len(highs) == 0 || len(lows) == 0 {
		return null.Float{}, null.Float{}
	}
	return null.FloatFrom(maxOf(highs)), null.FloatFrom(minOf(lows))
}

// -----------------------------------------------------------------------------

func splitChange(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func lastN(values []float64, n int) ([]float64, bool) {
	if n <= 0 || len(values) < n {
		return nil, false
	}
	return values[len(values)-n:], true
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		m = max(m, v)
	}
	return m
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		m = min(m, v)
	}
	return m
}
