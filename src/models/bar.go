package models

import (
	"fmt"
	"time"
)

// Resolution is the width of a bar.
type Resolution string

const (
	ResolutionSecond Resolution = "second"
	ResolutionMinute Resolution = "minute"
	ResolutionHour   Resolution = "hour"
	ResolutionDay    Resolution = "day"
	ResolutionWeek   Resolution = "week"
)

// AllResolutions lists every supported resolution from finest to coarsest.
var AllResolutions = []Resolution{
	ResolutionSecond,
	ResolutionMinute,
	ResolutionHour,
	ResolutionDay,
	ResolutionWeek,
}

// -----------------------------------------------------------------------------

// ParseResolution maps a configuration name to a Resolution.
func ParseResolution(s string) (Resolution, error) {
	for _, r := range AllResolutions {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resolution %q", s)
}

// -----------------------------------------------------------------------------

// Duration returns the nominal bar width.
func (r Resolution) Duration() time.Duration {
	switch r {
	case ResolutionSecond:
		return time.Second
	case ResolutionMinute:
		return time.Minute
	case ResolutionHour:
		return time.Hour
	case ResolutionDay:
		return 24 * time.Hour
	case ResolutionWeek:
		return 7 * 24 * time.Hour
	}
	return 0
}

// -----------------------------------------------------------------------------

// MBar is one OHLCV bar. Timestamp is the bar open; daily and weekly bars are
// stamped at the exchange-local start of their trading day.
// (Symbol, Resolution, Timestamp) is unique.
type MBar struct {
	Symbol     string     `json:"symbol"`
	Resolution Resolution `json:"resolution"`
	Timestamp  time.Time  `json:"timestamp"`
	Open       float64    `json:"open"`
	High       float64    `json:"high"`
	Low        float64    `json:"low"`
	Close      float64    `json:"close"`
	Volume     float64    `json:"volume"`
}

// Validate rejects bars that cannot be stored.
func (b MBar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar has no symbol")
	}
	if _, err := ParseResolution(string(b.Resolution)); err != nil {
		return err
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("bar %s/%s has no timestamp", b.Symbol, b.Resolution)
	}
	if b.High < b.Low {
		return fmt.Errorf("bar %s/%s at %s has high < low", b.Symbol, b.Resolution, b.Timestamp.Format(time.RFC3339))
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s/%s at %s has negative volume", b.Symbol, b.Resolution, b.Timestamp.Format(time.RFC3339))
	}
	return nil
}
