package reference

import (
	"context"
	"testing"
	"time"

	"screener-engine/src/helpers"
	"screener-engine/src/models"
	"screener-engine/src/storage/memory"
	"screener-engine/src/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tuesday 2024-03-12, 11:00 in New York.
var now = time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC)

func newRefresher(t *testing.T) (*Refresher, *memory.MemoryDB) {
	t.Helper()
	cfg := &models.MConfig{}
	cfg.Reference.Concurrency = 4
	cfg.Refresh.Benchmark = "SPY"
	db := memory.NewMemoryDB(cfg, nil)
	r := NewRefresher(db, db, utils.GetCalendar("XNYS"), cfg, nil)
	r.Now = func() time.Time { return now }
	return r, db
}

// dailyHistory stores n completed daily bars ending the trading day before
// now, oldest first, with close 100+i.
func dailyHistory(t *testing.T, r *Refresher, db *memory.MemoryDB, symbol string, n int) []models.MBar {
	t.Helper()
	days := make([]time.Time, n)
	day := r.Calendar.StartOfDay(now)
	for i := n - 1; i >= 0; i-- {
		day = r.Calendar.PreviousTradingDay(day)
		days[i] = day
	}

	bars := make([]models.MBar, n)
	for i, d := range days {
		c := 100 + float64(i)
		bars[i] = models.MBar{Symbol: symbol, Resolution: models.ResolutionDay, Timestamp: d,
			Open: c - 1, High: c + 2, Low: c - 2, Close: c, Volume: 1000 * float64(i+1)}
	}
	_, err := db.AppendBars(context.Background(), bars)
	require.NoError(t, err)
	return bars
}

// -----------------------------------------------------------------------------

func TestDailyReferenceWithShortHistory(t *testing.T) {
	ctx := context.Background()
	r, db := newRefresher(t)
	bars := dailyHistory(t, r, db, "ABC", 10)

	ref, err := r.ComputeDaily(ctx, "ABC", now)
	require.NoError(t, err)

	last := bars[len(bars)-1]
	assert.Equal(t, last.Close, ref.PrevClose.Float64)
	assert.Equal(t, last.Close, ref.Close1d.Float64)
	assert.True(t, ref.Close1w.Valid)
	assert.False(t, ref.Close1m.Valid)
	assert.False(t, ref.Close1y.Valid)
	assert.Equal(t, bars[0].Open, ref.OpenAllTime.Float64)
	assert.Equal(t, bars[0].Open, ref.OpenYTD.Float64)

	assert.Equal(t, last.High, ref.High52w.Float64)
	assert.Equal(t, bars[0].Low, ref.Low52w.Float64)

	assert.False(t, ref.MA50.Valid)
	assert.False(t, ref.AvgVolume14.Valid)
	assert.True(t, ref.Volatility1w.Valid)
	assert.False(t, ref.Volatility1m.Valid)
}

func TestDailyReferenceIgnoresTodaysBar(t *testing.T) {
	ctx := context.Background()
	r, db := newRefresher(t)
	bars := dailyHistory(t, r, db, "ABC", 60)

	today := models.MBar{Symbol: "ABC", Resolution: models.ResolutionDay, Timestamp: r.Calendar.StartOfDay(now),
		Open: 1, High: 500, Low: 1, Close: 400, Volume: 1}
	_, err := db.AppendBars(ctx, []models.MBar{today})
	require.NoError(t, err)

	ref, err := r.ComputeDaily(ctx, "ABC", now)
	require.NoError(t, err)

	assert.Equal(t, bars[len(bars)-1].Close, ref.PrevClose.Float64)
	assert.NotEqual(t, 500.0, ref.High52w.Float64)
	require.True(t, ref.MA50.Valid)
	assert.InDelta(t, 100+float64(10+59)/2, ref.MA50.Float64, 1e-9)
	assert.True(t, ref.AvgVolume30.Valid)
}

// -----------------------------------------------------------------------------

func TestMinuteReference(t *testing.T) {
	ctx := context.Background()
	r, db := newRefresher(t)

	var bars []models.MBar
	for i := 300; i >= 1; i-- {
		c := float64(1000 - i)
		bars = append(bars, models.MBar{Symbol: "ABC", Resolution: models.ResolutionMinute, Timestamp: now.Add(-time.Duration(i) * time.Minute),
			Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 10})
	}
	_, err := db.AppendBars(ctx, bars)
	require.NoError(t, err)

	ref, err := r.ComputeMinute(ctx, "ABC", now)
	require.NoError(t, err)

	assert.Equal(t, 999.0, ref.Close1m.Float64)
	assert.Equal(t, 985.0, ref.Close15m.Float64)
	assert.Equal(t, 940.0, ref.Close1h.Float64)
	assert.Equal(t, 760.0, ref.Close4h.Float64)
	assert.Equal(t, 999.5, ref.High15m.Float64)
	assert.Equal(t, 984.5, ref.Low15m.Float64)
	assert.Equal(t, 939.5, ref.Low1h.Float64)
	assert.Equal(t, 10.0, ref.AvgVolume14.Float64)
}

// -----------------------------------------------------------------------------

func TestRefreshMarksOnlyActiveInstrumentsDirty(t *testing.T) {
	ctx := context.Background()
	r, db := newRefresher(t)
	require.NoError(t, db.UpsertInstruments(ctx, []models.MInstrument{
		{Symbol: "ABC", Active: true},
		{Symbol: "OLD", Active: false},
	}))
	dailyHistory(t, r, db, "ABC", 10)
	dailyHistory(t, r, db, "SPY", 10)

	n, err := r.RefreshDaily(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	spy, err := db.GetDailyReference(ctx, "SPY")
	require.NoError(t, err)
	require.NotNil(t, spy)
	assert.True(t, spy.PrevClose.Valid)

	entry, err := db.GetStaleness(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, models.StateDirty, entry.State)

	_, err = db.GetStaleness(ctx, "SPY")
	assert.ErrorIs(t, err, helpers.ErrNotFound)
	old, err := db.GetDailyReference(ctx, "OLD")
	require.NoError(t, err)
	assert.Nil(t, old)

	n, err = r.RefreshMinute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
