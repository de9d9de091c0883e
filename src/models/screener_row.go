package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// ScreenerSchemaVersion is bumped whenever the set of row columns changes.
const ScreenerSchemaVersion = 1

// MScreenerRow is the denormalized, per-instrument screener snapshot. Every
// numeric value of a row was computed against the same SnapshotAt.
type MScreenerRow struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Sector        string    `json:"sector"`
	Industry      string    `json:"industry"`
	SnapshotAt    time.Time `json:"snapshot_at"`
	SchemaVersion int       `json:"schema_version"`

	MarketCap null.Float `json:"market_cap"`

	Price           null.Float `json:"price"`
	DayOpen         null.Float `json:"day_open"`
	DayHigh         null.Float `json:"day_high"`
	DayLow          null.Float `json:"day_low"`
	DayClose        null.Float `json:"day_close"`
	DayVolume       null.Float `json:"day_volume"`
	DayDollarVolume null.Float `json:"day_dollar_volume"`
	PrevClose       null.Float `json:"prev_close"`

	Change         null.Float `json:"change"`
	ChangeFromOpen null.Float `json:"change_from_open"`
	Gap            null.Float `json:"gap"`
	Change1min     null.Float `json:"change_1min"`
	Change15min    null.Float `json:"change_15min"`
	Change1h       null.Float `json:"change_1h"`
	Change4h       null.Float `json:"change_4h"`
	Change1d       null.Float `json:"change_1d"`
	Change1w       null.Float `json:"change_1w"`
	Change1mo      null.Float `json:"change_1mo"`
	Change3mo      null.Float `json:"change_3mo"`
	Change6mo      null.Float `json:"change_6mo"`
	Change1y       null.Float `json:"change_1y"`
	Change5y       null.Float `json:"change_5y"`
	Change10y      null.Float `json:"change_10y"`
	ChangeYTD      null.Float `json:"change_ytd"`
	ChangeAllTime  null.Float `json:"change_all_time"`

	High52w        null.Float `json:"high_52w"`
	Low52w         null.Float `json:"low_52w"`
	PctFrom52wHigh null.Float `json:"pct_from_52w_high"`
	PctFrom52wLow  null.Float `json:"pct_from_52w_low"`
	MA50           null.Float `json:"ma_50"`
	MA200          null.Float `json:"ma_200"`
	PctFromMA50    null.Float `json:"pct_from_ma_50"`
	PctFromMA200   null.Float `json:"pct_from_ma_200"`

	RSI14        null.Float `json:"rsi_14"`
	Beta1m       null.Float `json:"beta_1m"`
	Beta1y       null.Float `json:"beta_1y"`
	Volatility1w null.Float `json:"volatility_1w"`
	Volatility1m null.Float `json:"volatility_1m"`

	Range1min null.Float `json:"range_1min"`
	Range15m  null.Float `json:"range_15min"`
	Range1h   null.Float `json:"range_1h"`
	RangeDay  null.Float `json:"range_day"`

	AvgVolume14d         null.Float `json:"avg_volume_14d"`
	AvgVolume30d         null.Float `json:"avg_volume_30d"`
	AvgDollarVolume14d   null.Float `json:"avg_dollar_volume_14d"`
	AvgDollarVolume30d   null.Float `json:"avg_dollar_volume_30d"`
	RelativeVolume       null.Float `json:"relative_volume"`
	MinuteVolume         null.Float `json:"minute_volume"`
	AvgMinuteVolume14    null.Float `json:"avg_minute_volume_14"`
	MinuteRelativeVolume null.Float `json:"minute_relative_volume"`

	PremarketOpen         null.Float `json:"premarket_open"`
	PremarketHigh         null.Float `json:"premarket_high"`
	PremarketLow          null.Float `json:"premarket_low"`
	PremarketClose        null.Float `json:"premarket_close"`
	PremarketVolume       null.Float `json:"premarket_volume"`
	PremarketDollarVolume null.Float `json:"premarket_dollar_volume"`
	PremarketChange       null.Float `json:"premarket_change"`
	PremarketRange        null.Float `json:"premarket_range"`

	AfterhoursOpen         null.Float `json:"afterhours_open"`
	AfterhoursHigh         null.Float `json:"afterhours_high"`
	AfterhoursLow          null.Float `json:"afterhours_low"`
	AfterhoursClose        null.Float `json:"afterhours_close"`
	AfterhoursVolume       null.Float `json:"afterhours_volume"`
	AfterhoursDollarVolume null.Float `json:"afterhours_dollar_volume"`
	AfterhoursChange       null.Float `json:"afterhours_change"`
}

type rowField = FloatField[MScreenerRow]

// ScreenerFields is the column registry of MScreenerRow, in column order.
var ScreenerFields = []rowField{
	{"market_cap", func(r *MScreenerRow) *null.Float { return &r.MarketCap }},

	{"price", func(r *MScreenerRow) *null.Float { return &r.Price }},
	{"day_open", func(r *MScreenerRow) *null.Float { return &r.DayOpen }},
	{"day_high", func(r *MScreenerRow) *null.Float { return &r.DayHigh }},
	{"day_low", func(r *MScreenerRow) *null.Float { return &r.DayLow }},
	{"day_close", func(r *MScreenerRow) *null.Float { return &r.DayClose }},
	{"day_volume", func(r *MScreenerRow) *null.Float { return &r.DayVolume }},
	{"day_dollar_volume", func(r *MScreenerRow) *null.Float { return &r.DayDollarVolume }},
	{"prev_close", func(r *MScreenerRow) *null.Float { return &r.PrevClose }},

	{"change", func(r *MScreenerRow) *null.Float { return &r.Change }},
	{"change_from_open", func(r *MScreenerRow) *null.Float { return &r.ChangeFromOpen }},
	{"gap", func(r *MScreenerRow) *null.Float { return &r.Gap }},
	{"change_1min", func(r *MScreenerRow) *null.Float { return &r.Change1min }},
	{"change_15min", func(r *MScreenerRow) *null.Float { return &r.Change15min }},
	{"change_1h", func(r *MScreenerRow) *null.Float { return &r.Change1h }},
	{"change_4h", func(r *MScreenerRow) *null.Float { return &r.Change4h }},
	{"change_1d", func(r *MScreenerRow) *null.Float { return &r.Change1d }},
	{"change_1w", func(r *MScreenerRow) *null.Float { return &r.Change1w }},
	{"change_1mo", func(r *MScreenerRow) *null.Float { return &r.Change1mo }},
	{"change_3mo", func(r *MScreenerRow) *null.Float { return &r.Change3mo }},
	{"change_6mo", func(r *MScreenerRow) *null.Float { return &r.Change6mo }},
	{"change_1y", func(r *MScreenerRow) *null.Float { return &r.Change1y }},
	{"change_5y", func(r *MScreenerRow) *null.Float { return &r.Change5y }},
	{"change_10y", func(r *MScreenerRow) *null.Float { return &r.Change10y }},
	{"change_ytd", func(r *MScreenerRow) *null.Float { return &r.ChangeYTD }},
	{"change_all_time", func(r *MScreenerRow) *null.Float { return &r.ChangeAllTime }},

	{"high_52w", func(r *MScreenerRow) *null.Float { return &r.High52w }},
	{"low_52w", func(r *MScreenerRow) *null.Float { return &r.Low52w }},
	{"pct_from_52w_high", func(r *MScreenerRow) *null.Float { return &r.PctFrom52wHigh }},
	{"pct_from_52w_low", func(r *MScreenerRow) *null.Float { return &r.PctFrom52wLow }},
	{"ma_50", func(r *MScreenerRow) *null.Float { return &r.MA50 }},
	{"ma_200", func(r *MScreenerRow) *null.Float { return &r.MA200 }},
	{"pct_from_ma_50", func(r *MScreenerRow) *null.Float { return &r.PctFromMA50 }},
	{"pct_from_ma_200", func(r *MScreenerRow) *null.Float { return &r.PctFromMA200 }},

	{"rsi_14", func(r *MScreenerRow) *null.Float { return &r.RSI14 }},
	{"beta_1m", func(r *MScreenerRow) *null.Float { return &r.Beta1m }},
	{"beta_1y", func(r *MScreenerRow) *null.Float { return &r.Beta1y }},
	{"volatility_1w", func(r *MScreenerRow) *null.Float { return &r.Volatility1w }},
	{"volatility_1m", func(r *MScreenerRow) *null.Float { return &r.Volatility1m }},

	{"range_1min", func(r *MScreenerRow) *null.Float { return &r.Range1min }},
	{"range_15min", func(r *MScreenerRow) *null.Float { return &r.Range15m }},
	{"range_1h", func(r *MScreenerRow) *null.Float { return &r.Range1h }},
	{"range_day", func(r *MScreenerRow) *null.Float { return &r.RangeDay }},

	{"avg_volume_14d", func(r *MScreenerRow) *null.Float { return &r.AvgVolume14d }},
	{"avg_volume_30d", func(r *MScreenerRow) *null.Float { return &r.AvgVolume30d }},
	{"avg_dollar_volume_14d", func(r *MScreenerRow) *null.Float { return &r.AvgDollarVolume14d }},
	{"avg_dollar_volume_30d", func(r *MScreenerRow) *null.Float { return &r.AvgDollarVolume30d }},
	{"relative_volume", func(r *MScreenerRow) *null.Float { return &r.RelativeVolume }},
	{"minute_volume", func(r *MScreenerRow) *null.Float { return &r.MinuteVolume }},
	{"avg_minute_volume_14", func(r *MScreenerRow) *null.Float { return &r.AvgMinuteVolume14 }},
	{"minute_relative_volume", func(r *MScreenerRow) *null.Float { return &r.MinuteRelativeVolume }},

	{"premarket_open", func(r *MScreenerRow) *null.Float { return &r.PremarketOpen }},
	{"premarket_high", func(r *MScreenerRow) *null.Float { return &r.PremarketHigh }},
	{"premarket_low", func(r *MScreenerRow) *null.Float { return &r.PremarketLow }},
	{"premarket_close", func(r *MScreenerRow) *null.Float { return &r.PremarketClose }},
	{"premarket_volume", func(r *MScreenerRow) *null.Float { return &r.PremarketVolume }},
	{"premarket_dollar_volume", func(r *MScreenerRow) *null.Float { return &r.PremarketDollarVolume }},
	{"premarket_change", func(r *MScreenerRow) *null.Float { return &r.PremarketChange }},
	{"premarket_range", func(r *MScreenerRow) *null.Float { return &r.PremarketRange }},

	{"afterhours_open", func(r *MScreenerRow) *null.Float { return &r.AfterhoursOpen }},
	{"afterhours_high", func(r *MScreenerRow) *null.Float { return &r.AfterhoursHigh }},
	{"afterhours_low", func(r *MScreenerRow) *null.Float { return &r.AfterhoursLow }},
	{"afterhours_close", func(r *MScreenerRow) *null.Float { return &r.AfterhoursClose }},
	{"afterhours_volume", func(r *MScreenerRow) *null.Float { return &r.AfterhoursVolume }},
	{"afterhours_dollar_volume", func(r *MScreenerRow) *null.Float { return &r.AfterhoursDollarVolume }},
	{"afterhours_change", func(r *MScreenerRow) *null.Float { return &r.AfterhoursChange }},
}
