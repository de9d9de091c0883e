package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session names a slice of the trading day.
type Session string

const (
	SessionPremarket  Session = "premarket"
	SessionRegular    Session = "regular"
	SessionAfterhours Session = "afterhours"
	SessionClosed     Session = "closed"
)

// IsExtended reports whether rollups are kept for the session.
func (s Session) IsExtended() bool {
	return s == SessionPremarket || s == SessionAfterhours
}

// MSessionKey identifies one rollup. Day is the exchange-local trading day
// formatted as 2006-01-02.
type MSessionKey struct {
	Symbol  string  `json:"symbol"`
	Day     string  `json:"day"`
	Session Session `json:"session"`
}

// MSessionRollup is the running aggregate of an extended-hours session.
// Volumes are decimals so that merge order never changes the sums.
type MSessionRollup struct {
	MSessionKey
	Open         float64         `json:"open"`
	High         float64         `json:"high"`
	Low          float64         `json:"low"`
	Close        float64         `json:"close"`
	Volume       decimal.Decimal `json:"volume"`
	DollarVolume decimal.Decimal `json:"dollar_volume"`
	FirstAt      time.Time       `json:"first_at"`
	LastAt       time.Time       `json:"last_at"`
	BarCount     int             `json:"bar_count"`
}

// -----------------------------------------------------------------------------

// RollupFromBar builds a single-bar rollup.
func RollupFromBar(key MSessionKey, bar MBar) MSessionRollup {
	volume := decimal.NewFromFloat(bar.Volume)
	return MSessionRollup{
		MSessionKey:  key,
		Open:         bar.Open,
		High:         bar.High,
		Low:          bar.Low,
		Close:        bar.Close,
		Volume:       volume,
		DollarVolume: volume.Mul(decimal.NewFromFloat(bar.Close)),
		FirstAt:      bar.Timestamp,
		LastAt:       bar.Timestamp,
		BarCount:     1,
	}
}

// -----------------------------------------------------------------------------

// Merge combines two rollups of the same key. It is commutative and
// associative, so bars may be folded in any arrival order.
func (r MSessionRollup) Merge(o MSessionRollup) MSessionRollup {
	if r.BarCount == 0 {
		return o
	}
	if o.BarCount == 0 {
		return r
	}

	out := r
	out.BarCount = r.BarCount + o.BarCount
	out.Volume = r.Volume.Add(o.Volume)
	out.DollarVolume = r.DollarVolume.Add(o.DollarVolume)
	out.High = max(r.High, o.High)
	out.Low = min(r.Low, o.Low)

	switch {
	case o.FirstAt.Before(r.FirstAt):
		out.FirstAt, out.Open = o.FirstAt, o.Open
	case o.FirstAt.Equal(r.FirstAt):
		out.Open = min(r.Open, o.Open)
	}

	switch {
	case o.LastAt.After(r.LastAt):
		out.LastAt, out.Close = o.LastAt, o.Close
	case o.LastAt.Equal(r.LastAt):
		out.Close = max(r.Close, o.Close)
	}

	return out
}
