package utils

import (
	"testing"
	"time"

	"screener-engine/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYork(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestClassifySessions(t *testing.T) {
	tc := GetCalendar("XNYS")
	ny := newYork(t)

	at := func(h, m int) time.Time { return time.Date(2024, 3, 4, h, m, 0, 0, ny) } // Monday

	assert.Equal(t, models.SessionClosed, tc.Classify(at(3, 59)))
	assert.Equal(t, models.SessionPremarket, tc.Classify(at(4, 0)))
	assert.Equal(t, models.SessionPremarket, tc.Classify(at(9, 29)))
	assert.Equal(t, models.SessionRegular, tc.Classify(at(9, 30)))
	assert.Equal(t, models.SessionRegular, tc.Classify(at(15, 59)))
	assert.Equal(t, models.SessionAfterhours, tc.Classify(at(16, 0)))
	assert.Equal(t, models.SessionAfterhours, tc.Classify(at(19, 59)))
	assert.Equal(t, models.SessionClosed, tc.Classify(at(20, 0)))

	saturday := time.Date(2024, 3, 2, 10, 0, 0, 0, ny)
	assert.Equal(t, models.SessionClosed, tc.Classify(saturday))
}

func TestSessionWindowAcrossDST(t *testing.T) {
	tc := GetCalendar("XNYS")

	// first Monday after the March 2024 DST switch
	day := time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC)
	start, end := tc.SessionWindow(day, models.SessionRegular)
	assert.Equal(t, time.Date(2024, 3, 11, 13, 30, 0, 0, time.UTC), start.UTC())
	assert.Equal(t, time.Date(2024, 3, 11, 20, 0, 0, 0, time.UTC), end.UTC())

	start, end = tc.SessionWindow(day, models.SessionPremarket)
	assert.Equal(t, time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC), start.UTC())
	assert.Equal(t, time.Date(2024, 3, 11, 13, 30, 0, 0, time.UTC), end.UTC())
}

func TestPreviousTradingDaySkipsWeekend(t *testing.T) {
	tc := GetCalendar("XNYS")
	ny := newYork(t)

	monday := time.Date(2024, 3, 4, 10, 0, 0, 0, ny)
	assert.Equal(t, "2024-03-01", tc.DayKey(tc.PreviousTradingDay(monday)))
	assert.Equal(t, "2024-02-28", tc.DayKey(tc.TradingDaysBack(monday, 3)))
}

func TestDayKeyUsesExchangeTime(t *testing.T) {
	tc := GetCalendar("XNYS")

	// 02:00 UTC on the 5th is still the evening of the 4th in New York
	assert.Equal(t, "2024-03-04", tc.DayKey(time.Date(2024, 3, 5, 2, 0, 0, 0, time.UTC)))

	midnight, err := tc.ParseDay("2024-03-04")
	require.NoError(t, err)
	assert.True(t, tc.StartOfDay(time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC)).Equal(midnight))
}
