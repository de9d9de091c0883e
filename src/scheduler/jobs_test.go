package scheduler

import (
	"context"
	"testing"
	"time"

	"screener-engine/src/models"
	"screener-engine/src/reference"
	"screener-engine/src/storage/memory"
	"screener-engine/src/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobsRefreshReferences(t *testing.T) {
	ctx := context.Background()
	cfg := &models.MConfig{}
	cfg.Reference.Concurrency = 2
	db := memory.NewMemoryDB(cfg, nil)
	cal := utils.GetCalendar("XNYS")

	require.NoError(t, db.UpsertInstruments(ctx, []models.MInstrument{{Symbol: "ABC", Active: true}}))
	day := cal.PreviousTradingDay(time.Now())
	_, err := db.AppendBars(ctx, []models.MBar{{Symbol: "ABC", Resolution: models.ResolutionDay, Timestamp: day,
		Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100}})
	require.NoError(t, err)

	s := NewScheduler(reference.NewRefresher(db, db, cal, cfg, nil), nil, Cadences{
		DailyReference:  time.Hour,
		MinuteReference: time.Hour,
	}, nil)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.Eventually(t, func() bool {
		ref, err := db.GetDailyReference(ctx, "ABC")
		return err == nil && ref != nil
	}, 5*time.Second, 10*time.Millisecond)

	ref, err := db.GetDailyReference(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, 10.5, ref.PrevClose.Float64)

	entry, err := db.GetStaleness(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, models.StateDirty, entry.State)
}

func TestStartRejectsZeroCadence(t *testing.T) {
	cfg := &models.MConfig{}
	db := memory.NewMemoryDB(cfg, nil)
	s := NewScheduler(reference.NewRefresher(db, db, utils.GetCalendar("XNYS"), cfg, nil), nil, Cadences{DailyReference: time.Hour}, nil)
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
}
