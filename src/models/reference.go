package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// MDailyReference holds the slow-moving per-instrument values derived from
// daily bars. A null field means the history needed for it does not exist.
type MDailyReference struct {
	Symbol     string    `json:"symbol"`
	ComputedAt time.Time `json:"computed_at"`

	PrevClose   null.Float `json:"prev_close"`
	Close1d     null.Float `json:"close_1d"`
	Close1w     null.Float `json:"close_1w"`
	Close1m     null.Float `json:"close_1m"`
	Close3m     null.Float `json:"close_3m"`
	Close6m     null.Float `json:"close_6m"`
	Close1y     null.Float `json:"close_1y"`
	Close5y     null.Float `json:"close_5y"`
	Close10y    null.Float `json:"close_10y"`
	OpenYTD     null.Float `json:"open_ytd"`
	OpenAllTime null.Float `json:"open_all_time"`

	High52w null.Float `json:"high_52w"`
	Low52w  null.Float `json:"low_52w"`
	MA50    null.Float `json:"ma_50"`
	MA200   null.Float `json:"ma_200"`

	Volatility1w null.Float `json:"volatility_1w"`
	Volatility1m null.Float `json:"volatility_1m"`

	AvgVolume14       null.Float `json:"avg_volume_14"`
	AvgDollarVolume14 null.Float `json:"avg_dollar_volume_14"`
	AvgVolume30       null.Float `json:"avg_volume_30"`
	AvgDollarVolume30 null.Float `json:"avg_dollar_volume_30"`
}

// DailyReferenceFields is the column registry of MDailyReference.
var DailyReferenceFields = []FloatField[MDailyReference]{
	{"prev_close", func(r *MDailyReference) *null.Float { return &r.PrevClose }},
	{"close_1d", func(r *MDailyReference) *null.Float { return &r.Close1d }},
	{"close_1w", func(r *MDailyReference) *null.Float { return &r.Close1w }},
	{"close_1m", func(r *MDailyReference) *null.Float { return &r.Close1m }},
	{"close_3m", func(r *MDailyReference) *null.Float { return &r.Close3m }},
	{"close_6m", func(r *MDailyReference) *null.Float { return &r.Close6m }},
	{"close_1y", func(r *MDailyReference) *null.Float { return &r.Close1y }},
	{"close_5y", func(r *MDailyReference) *null.Float { return &r.Close5y }},
	{"close_10y", func(r *MDailyReference) *null.Float { return &r.Close10y }},
	{"open_ytd", func(r *MDailyReference) *null.Float { return &r.OpenYTD }},
	{"open_all_time", func(r *MDailyReference) *null.Float { return &r.OpenAllTime }},
	{"high_52w", func(r *MDailyReference) *null.Float { return &r.High52w }},
	{"low_52w", func(r *MDailyReference) *null.Float { return &r.Low52w }},
	{"ma_50", func(r *MDailyReference) *null.Float { return &r.MA50 }},
	{"ma_200", func(r *MDailyReference) *null.Float { return &r.MA200 }},
	{"volatility_1w", func(r *MDailyReference) *null.Float { return &r.Volatility1w }},
	{"volatility_1m", func(r *MDailyReference) *null.Float { return &r.Volatility1m }},
	{"avg_volume_14", func(r *MDailyReference) *null.Float { return &r.AvgVolume14 }},
	{"avg_dollar_volume_14", func(r *MDailyReference) *null.Float { return &r.AvgDollarVolume14 }},
	{"avg_volume_30", func(r *MDailyReference) *null.Float { return &r.AvgVolume30 }},
	{"avg_dollar_volume_30", func(r *MDailyReference) *null.Float { return &r.AvgDollarVolume30 }},
}

// -----------------------------------------------------------------------------

// MMinuteReference holds the fast-moving values derived from minute bars.
type MMinuteReference struct {
	Symbol     string    `json:"symbol"`
	ComputedAt time.Time `json:"computed_at"`

	Close1m  null.Float `json:"close_1m"`
	Close15m null.Float `json:"close_15m"`
	Close1h  null.Float `json:"close_1h"`
	Close4h  null.Float `json:"close_4h"`

	High15m null.Float `json:"high_15m"`
	Low15m  null.Float `json:"low_15m"`
	High1h  null.Float `json:"high_1h"`
	Low1h   null.Float `json:"low_1h"`

	AvgVolume14       null.Float `json:"avg_volume_14"`
	AvgDollarVolume14 null.Float `json:"avg_dollar_volume_14"`
}

// MinuteReferenceFields is the column registry of MMinuteReference.
var MinuteReferenceFields = []FloatField[MMinuteReference]{
	{"close_1m", func(r *MMinuteReference) *null.Float { return &r.Close1m }},
	{"close_15m", func(r *MMinuteReference) *null.Float { return &r.Close15m }},
	{"close_1h", func(r *MMinuteReference) *null.Float { return &r.Close1h }},
	{"close_4h", func(r *MMinuteReference) *null.Float { return &r.Close4h }},
	{"high_15m", func(r *MMinuteReference) *null.Float { return &r.High15m }},
	{"low_15m", func(r *MMinuteReference) *null.Float { return &r.Low15m }},
	{"high_1h", func(r *MMinuteReference) *null.Float { return &r.High1h }},
	{"low_1h", func(r *MMinuteReference) *null.Float { return &r.Low1h }},
	{"avg_volume_14", func(r *MMinuteReference) *null.Float { return &r.AvgVolume14 }},
	{"avg_dollar_volume_14", func(r *MMinuteReference) *null.Float { return &r.AvgDollarVolume14 }},
}
