package core

import (
	"math"
	"testing"
	"time"

	"screener-engine/src/models"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var none = null.Float{}

func f(v float64) null.Float { return null.FloatFrom(v) }

func TestSafeDiv(t *testing.T) {
	assert.Equal(t, f(2), SafeDiv(f(4), f(2)))
	assert.False(t, SafeDiv(f(4), f(0)).Valid)
	assert.False(t, SafeDiv(none, f(2)).Valid)
	assert.False(t, SafeDiv(f(4), none).Valid)
	assert.False(t, SafeDiv(f(math.MaxFloat64), f(1e-300)).Valid, "overflow must not leak Inf")
}

func TestPercentChange(t *testing.T) {
	got := PercentChange(f(110), f(100))
	require.True(t, got.Valid)
	assert.InDelta(t, 10.0, got.Float64, 1e-9)

	assert.False(t, PercentChange(f(110), f(0)).Valid)
	assert.False(t, PercentChange(none, f(100)).Valid)
	assert.False(t, PercentChange(f(110), none).Valid)
}

func TestRangePercent(t *testing.T) {
	got := RangePercent(f(105), f(100))
	require.True(t, got.Valid)
	assert.InDelta(t, 5.0, got.Float64, 1e-9)
	assert.False(t, RangePercent(f(105), f(0)).Valid)
}

func TestBeta(t *testing.T) {
	// instrument +20%, benchmark +10%
	got := Beta(f(120), f(100), f(110), f(100))
	require.True(t, got.Valid)
	assert.InDelta(t, 2.0, got.Float64, 1e-9)

	assert.False(t, Beta(f(120), f(100), f(110), none).Valid, "missing benchmark reference")
	assert.False(t, Beta(f(120), f(100), f(100), f(100)).Valid, "flat benchmark")
	assert.False(t, Beta(f(120), none, f(110), f(100)).Valid)
}

func TestRSIBoundaries(t *testing.T) {
	rising := make([]float64, 15)
	flat := make([]float64, 15)
	falling := make([]float64, 15)
	for i := range rising {
		rising[i] = 100 + float64(i)
		flat[i] = 100
		falling[i] = 100 - float64(i)
	}

	assert.Equal(t, f(100), RSI(rising, 14))
	assert.Equal(t, f(0), RSI(falling, 14))
	assert.False(t, RSI(flat, 14).Valid, "flat prices have no RSI")
	assert.False(t, RSI(rising[:14], 14).Valid, "needs period+1 closes")
}

func TestRSIWilderSmoothing(t *testing.T) {
	// alternating +2 / -1 over the seed window, then one -3 change
	closes := []float64{100}
	for i := 0; i < 14; i++ {
		step := 2.0
		if i%2 == 1 {
			step = -1
		}
		closes = append(closes, closes[len(closes)-1]+step)
	}
	seedGain, seedLoss := 14.0/14, 7.0/14
	closes = append(closes, closes[len(closes)-1]-3)

	avgGain := seedGain * 13 / 14
	avgLoss := (seedLoss*13 + 3) / 14
	want := 100 - 100/(1+avgGain/avgLoss)

	got := RSI(closes, 14)
	require.True(t, got.Valid)
	assert.InDelta(t, want, got.Float64, 1e-9)
}

func TestMovingAverageNeedsFullWindow(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, f(4), MovingAverage(closes, 3))
	assert.Equal(t, f(3), MovingAverage(closes, 5))
	assert.False(t, MovingAverage(closes, 6).Valid)
}

func TestRealizedVolatility(t *testing.T) {
	closes := []float64{100, 110, 99, 108.9}
	got := RealizedVolatility(closes, 4)
	require.True(t, got.Valid)
	// returns: +10%, -10%, +10%; sample std = sqrt(((20/3)^2*2 + (40/3)^2)/2) %
	want := math.Sqrt((math.Pow(0.2/3, 2)*2+math.Pow(0.4/3, 2))/2) * 100
	assert.InDelta(t, want, got.Float64, 1e-9)

	assert.False(t, RealizedVolatility(closes, 5).Valid)
	assert.False(t, RealizedVolatility([]float64{0, 1, 2}, 3).Valid)
}

func TestComputeOHLCV(t *testing.T) {
	base := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	bars := []models.MBar{
		{Timestamp: base, Open: 10, High: 11, Low: 9.5, Close: 10.5, Volume: 100},
		{Timestamp: base.Add(time.Minute), Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 200},
	}

	agg, ok := ComputeOHLCV(bars)
	require.True(t, ok)
	assert.Equal(t, OHLCV{Open: 10, High: 12, Low: 9.5, Close: 11, Volume: 300, DollarVolume: 100*10.5 + 200*11}, agg)

	reversed := []models.MBar{bars[1], bars[0]}
	agg, ok = ComputeOHLCV(reversed)
	require.True(t, ok)
	assert.Equal(t, 10.0, agg.Open)
	assert.Equal(t, 11.0, agg.Close)

	_, ok = ComputeOHLCV(nil)
	assert.False(t, ok)
}

func TestExtremes(t *testing.T) {
	high, low := Extremes([]float64{3, 9, 4}, []float64{1, 0.5, 2})
	assert.Equal(t, f(9), high)
	assert.Equal(t, f(0.5), low)

	high, low = Extremes(nil, nil)
	assert.False(t, high.Valid)
	assert.False(t, low.Valid)
}
