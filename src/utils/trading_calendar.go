package utils

import (
	"log"
	"strings"
	"time"

	"screener-engine/src/models"

	"github.com/scmhub/calendar"
)

// DayLayout formats trading-day keys.
const DayLayout = "2006-01-02"

// Session boundaries in exchange-local minutes after midnight.
const (
	premarketOpen   = 4 * 60
	regularOpen     = 9*60 + 30
	regularClose    = 16 * 60
	afterhoursClose = 20 * 60
)

// TradingCalendar calculates trading days and sessions using scmhub/calendar.
type TradingCalendar struct {
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

// GetCalendar loads the exchange calendar for a MIC code such as "XNYS".
func GetCalendar(mic string) *TradingCalendar {
	mic = strings.ToLower(strings.TrimSpace(mic))
	if mic == "" {
		mic = "xnys"
	}

	// scmhub/calendar.GetCalendar returns a calendar by MIC
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		// Fallback to xnys if not found
		cal = calendar.GetCalendar("xnys")
	}

	if cal == nil {
		log.Printf("WARNING: Failed to load calendar for MIC '%s' and fallback 'xnys'. Using simple fallback (Mon-Fri, New York time).", mic)
		nyLoc, _ := time.LoadLocation("America/New_York")
		if nyLoc == nil {
			nyLoc = time.UTC // Worst case
		}
		return &TradingCalendar{Fallback: true, Timezone: nyLoc}
	}

	return &TradingCalendar{Calendar: cal, Fallback: false, Timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

// Location is the exchange time zone.
func (tc *TradingCalendar) Location() *time.Location {
	if tc.Timezone == nil {
		return time.UTC
	}
	return tc.Timezone
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	date = date.In(tc.Location())

	if tc.Fallback {
		// Simple fallback: Mon-Fri
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	// Library handles IsHoliday / IsBusinessDay
	return tc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// StartOfDay is exchange-local midnight of t's trading day.
func (tc *TradingCalendar) StartOfDay(t time.Time) time.Time {
	local := t.In(tc.Location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tc.Location())
}

// DayKey is the trading-day key of t.
func (tc *TradingCalendar) DayKey(t time.Time) string {
	return t.In(tc.Location()).Format(DayLayout)
}

// ParseDay turns a day key back into exchange-local midnight.
func (tc *TradingCalendar) ParseDay(day string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, day, tc.Location())
}

// -----------------------------------------------------------------------------

// Classify names the session t falls in. Non-trading days are closed.
func (tc *TradingCalendar) Classify(t time.Time) models.Session {
	local := t.In(tc.Location())
	if !tc.IsTradingDay(local) {
		return models.SessionClosed
	}

	m := local.Hour()*60 + local.Minute()
	switch {
	case m >= premarketOpen && m < regularOpen:
		return models.SessionPremarket
	case m >= regularOpen && m < regularClose:
		return models.SessionRegular
	case m >= regularClose && m < afterhoursClose:
		return models.SessionAfterhours
	}
	return models.SessionClosed
}

// -----------------------------------------------------------------------------

// SessionWindow returns [start, end) of a session on the given trading day.
func (tc *TradingCalendar) SessionWindow(day time.Time, session models.Session) (time.Time, time.Time) {
	midnight := tc.StartOfDay(day)
	at := func(minutes int) time.Time {
		// time.Date normalizes across DST changes
		return time.Date(midnight.Year(), midnight.Month(), midnight.Day(), minutes/60, minutes%60, 0, 0, tc.Location())
	}

	switch session {
	case models.SessionPremarket:
		return at(premarketOpen), at(regularOpen)
	case models.SessionRegular:
		return at(regularOpen), at(regularClose)
	case models.SessionAfterhours:
		return at(regularClose), at(afterhoursClose)
	}
	return midnight, midnight
}

// -----------------------------------------------------------------------------

// PreviousTradingDay returns the last trading day strictly before t's day.
func (tc *TradingCalendar) PreviousTradingDay(t time.Time) time.Time {
	day := tc.StartOfDay(t)
	for i := 0; i < 30; i++ {
		day = tc.StartOfDay(day.AddDate(0, 0, -1).Add(12 * time.Hour))
		if tc.IsTradingDay(day.Add(12 * time.Hour)) {
			return day
		}
	}
	return day
}

// TradingDaysBack steps back n trading days from t's day.
func (tc *TradingCalendar) TradingDaysBack(t time.Time, n int) time.Time {
	day := tc.StartOfDay(t)
	for i := 0; i < n; i++ {
		day = tc.PreviousTradingDay(day)
	}
	return day
}
