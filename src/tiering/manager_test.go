package tiering

import (
	"context"
	"testing"
	"time"

	"screener-engine/src/models"
	"screener-engine/src/sessions"
	"screener-engine/src/storage"
	"screener-engine/src/storage/archive"
	"screener-engine/src/storage/memory"
	"screener-engine/src/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tuesday 2024-03-12, 11:00 in New York.
var now = time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC)

func bar(symbol string, ts time.Time, c float64) models.MBar {
	return models.MBar{Symbol: symbol, Resolution: models.ResolutionMinute, Timestamp: ts,
		Open: c, High: c, Low: c, Close: c, Volume: 1}
}

func newManager(t *testing.T, policies map[models.Resolution]models.MRetention) (*Manager, *memory.MemoryDB) {
	t.Helper()
	db := memory.NewMemoryDB(&models.MConfig{}, nil)
	cold, err := archive.New(t.TempDir())
	require.NoError(t, err)
	store := storage.NewTieredBarStore(db, cold)
	rollups := sessions.NewMaintainer(db, store, utils.GetCalendar("XNYS"), 3, nil)
	return NewManager(store, rollups, policies, nil), db
}

// -----------------------------------------------------------------------------

func TestRunCompressesThenDrops(t *testing.T) {
	ctx := context.Background()
	m, db := newManager(t, map[models.Resolution]models.MRetention{
		models.ResolutionMinute: {CompressAfter: time.Hour, RetainFor: 48 * time.Hour},
	})

	_, err := m.Store.AppendBars(ctx, []models.MBar{
		bar("ABC", now.Add(-72*time.Hour), 1),
		bar("ABC", now.Add(-3*time.Hour), 2),
		bar("XYZ", now.Add(-2*time.Hour), 3),
		bar("ABC", now.Add(-10*time.Minute), 4),
	})
	require.NoError(t, err)

	report, err := m.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Compressed[models.ResolutionMinute])
	assert.Equal(t, int64(1), report.Dropped[models.ResolutionMinute])

	hot, err := db.RangeBars(ctx, "ABC", models.ResolutionMinute, now.Add(-100*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, hot, 1)
	assert.Equal(t, 4.0, hot[0].Close)

	all, err := m.Store.RangeBars(ctx, "ABC", models.ResolutionMinute, now.Add(-100*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2.0, all[0].Close)

	latest, err := m.Store.LatestBar(ctx, "XYZ", models.ResolutionMinute, now)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3.0, latest.Close)

	report, err = m.Run(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, report.Compressed[models.ResolutionMinute])
	assert.Zero(t, report.Dropped[models.ResolutionMinute])
}

// -----------------------------------------------------------------------------

func TestZeroRetentionKeepsArchiveForever(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, map[models.Resolution]models.MRetention{
		models.ResolutionMinute: {CompressAfter: time.Hour},
	})

	_, err := m.Store.AppendBars(ctx, []models.MBar{bar("ABC", now.AddDate(-5, 0, 0), 1)})
	require.NoError(t, err)

	report, err := m.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Compressed[models.ResolutionMinute])
	assert.Zero(t, report.Dropped[models.ResolutionMinute])

	first, err := m.Store.EarliestBar(ctx, "ABC", models.ResolutionMinute, now.AddDate(-10, 0, 0), now)
	require.NoError(t, err)
	require.NotNil(t, first)
}

// -----------------------------------------------------------------------------

func TestRunPrunesSessionRollups(t *testing.T) {
	ctx := context.Background()
	m, db := newManager(t, nil)

	for _, day := range []string{"2024-03-06", "2024-03-07", "2024-03-08", "2024-03-11", "2024-03-12"} {
		key := models.MSessionKey{Symbol: "ABC", Day: day, Session: models.SessionAfterhours}
		require.NoError(t, db.PutRollup(ctx, models.RollupFromBar(key, bar("ABC", now, 1))))
	}

	report, err := m.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Pruned)

	kept, err := db.GetRollup(ctx, models.MSessionKey{Symbol: "ABC", Day: "2024-03-08", Session: models.SessionAfterhours})
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
