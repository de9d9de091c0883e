package analysis

import (
	"math"
	"time"

	"screener-engine/src/analysis/core"
	"screener-engine/src/logger"
	"screener-engine/src/models"
	"screener-engine/src/utils"

	"github.com/guregu/null/v6"
)

const rsiPeriod = 14

// RowInputs is everything one screener row is derived from. Every value was
// read against the same snapshot time; nil means the input does not exist.
type RowInputs struct {
	Instrument models.MInstrument

	DailyBar  *models.MBar // latest daily bar at or before now
	MinuteBar *models.MBar // latest minute bar at or before now

	// TodayMinutes are today's regular-session minute bars, oldest first.
	TodayMinutes []models.MBar

	// RecentCloses are the last completed daily closes, oldest first.
	RecentCloses []float64

	Daily  *models.MDailyReference
	Minute *models.MMinuteReference

	Premarket          *models.MSessionRollup
	Afterhours         *models.MSessionRollup
	PreviousAfterhours *models.MSessionRollup

	Benchmark *BenchmarkContext
}

// BenchmarkContext is the benchmark's state at the same snapshot.
type BenchmarkContext struct {
	Symbol string
	Price  null.Float
	Daily  *models.MDailyReference
}

// AnalysisFacade turns joined inputs into screener rows.
type AnalysisFacade struct {
	Calendar *utils.TradingCalendar
	Logger   *logger.Logger
}

// -----------------------------------------------------------------------------

func NewAnalysisFacade(cal *utils.TradingCalendar, log *logger.Logger) *AnalysisFacade {
	return &AnalysisFacade{
		Calendar: cal,
		Logger:   log,
	}
}

// -----------------------------------------------------------------------------

// ComputeRow derives every field of a screener row. It performs no I/O;
// missing inputs leave the dependent fields null.
func (a *AnalysisFacade) ComputeRow(in RowInputs, now time.Time) models.MScreenerRow {
	row := models.MScreenerRow{
		Symbol:        in.Instrument.Symbol,
		Name:          in.Instrument.Name,
		Sector:        in.Instrument.Sector,
		Industry:      in.Instrument.Industry,
		MarketCap:     in.Instrument.MarketCap,
		SnapshotAt:    now.Truncate(time.Second),
		SchemaVersion: models.ScreenerSchemaVersion,
	}

	daily := in.Daily
	if daily == nil {
		daily = &models.MDailyReference{}
	}
	minute := in.Minute
	if minute == nil {
		minute = &models.MMinuteReference{}
	}

	price := CurrentPrice(in.DailyBar, in.MinuteBar)
	row.Price = price
	row.PrevClose = daily.PrevClose

	a.dayFields(&row, in, now)

	row.Change = core.PercentChange(price, row.PrevClose)
	row.ChangeFromOpen = core.PercentChange(price, row.DayOpen)
	row.Gap = core.PercentChange(row.DayOpen, row.PrevClose)

	row.Change1min = core.PercentChange(price, minute.Close1m)
	row.Change15min = core.PercentChange(price, minute.Close15m)
	row.Change1h = core.PercentChange(price, minute.Close1h)
	row.Change4h = core.PercentChange(price, minute.Close4h)
	row.Change1d = core.PercentChange(price, daily.Close1d)
	row.Change1w = core.PercentChange(price, daily.Close1w)
	row.Change1mo = core.PercentChange(price, daily.Close1m)
	row.Change3mo = core.PercentChange(price, daily.Close3m)
	row.Change6mo = core.PercentChange(price, daily.Close6m)
	row.Change1y = core.PercentChange(price, daily.Close1y)
	row.Change5y = core.PercentChange(price, daily.Close5y)
	row.Change10y = core.PercentChange(price, daily.Close10y)
	row.ChangeYTD = core.PercentChange(price, daily.OpenYTD)
	row.ChangeAllTime = core.PercentChange(price, daily.OpenAllTime)

	row.High52w = widen(daily.High52w, row.DayHigh, math.Max)
	row.Low52w = widen(daily.Low52w, row.DayLow, math.Min)
	row.PctFrom52wHigh = core.PercentChange(price, row.High52w)
	row.PctFrom52wLow = core.PercentChange(price, row.Low52w)
	row.MA50 = daily.MA50
	row.MA200 = daily.MA200
	row.PctFromMA50 = core.PercentChange(price, row.MA50)
	row.PctFromMA200 = core.PercentChange(price, row.MA200)

	closes := in.RecentCloses
	if price.Valid {
		closes = append(append([]float64(nil), closes...), price.Float64)
	}
	row.RSI14 = core.RSI(closes, rsiPeriod)
	row.Volatility1w = daily.Volatility1w
	row.Volatility1m = daily.Volatility1m

	if b := in.Benchmark; b != nil && b.Daily != nil {
		row.Beta1m = core.Beta(price, daily.Close1m, b.Price, b.Daily.Close1m)
		row.Beta1y = core.Beta(price, daily.Close1y, b.Price, b.Daily.Close1y)
	}

	if in.MinuteBar != nil {
		row.Range1min = core.RangePercent(null.FloatFrom(in.MinuteBar.High), null.FloatFrom(in.MinuteBar.Low))
		row.MinuteVolume = null.FloatFrom(in.MinuteBar.Volume)
	}
	row.Range15m = core.RangePercent(minute.High15m, minute.Low15m)
	row.Range1h = core.RangePercent(minute.High1h, minute.Low1h)
	row.RangeDay = core.RangePercent(row.DayHigh, row.DayLow)

	row.AvgVolume14d = daily.AvgVolume14
	row.AvgVolume30d = daily.AvgVolume30
	row.AvgDollarVolume14d = daily.AvgDollarVolume14
	row.AvgDollarVolume30d = daily.AvgDollarVolume30
	row.RelativeVolume = core.SafeDiv(row.DayVolume, row.AvgVolume14d)
	row.AvgMinuteVolume14 = minute.AvgVolume14
	row.MinuteRelativeVolume = core.SafeDiv(row.MinuteVolume, row.AvgMinuteVolume14)

	a.sessionFields(&row, in)
	return row
}

// -----------------------------------------------------------------------------

// CurrentPrice is the close of whichever latest bar is newer; the minute bar
// wins ties.
func CurrentPrice(daily, minute *models.MBar) null.Float {
	switch {
	case minute != nil && (daily == nil || !minute.Timestamp.Before(daily.Timestamp)):
		return null.FloatFrom(minute.Close)
	case daily != nil:
		return null.FloatFrom(daily.Close)
	}
	return null.Float{}
}

// -----------------------------------------------------------------------------

// dayFields fills today's OHLCV from the regular-session minute bars, or from
// today's daily bar when no minute bars arrived.
func (a *AnalysisFacade) dayFields(row *models.MScreenerRow, in RowInputs, now time.Time) {
	agg, ok := core.ComputeOHLCV(in.TodayMinutes)
	if !ok && in.DailyBar != nil && in.DailyBar.Timestamp.Equal(a.Calendar.StartOfDay(now)) {
		agg, ok = core.ComputeOHLCV([]models.MBar{*in.DailyBar})
	}
	if !ok {
		return
	}

	row.DayOpen = null.FloatFrom(agg.Open)
	row.DayHigh = null.FloatFrom(agg.High)
	row.DayLow = null.FloatFrom(agg.Low)
	row.DayClose = null.FloatFrom(agg.Close)
	row.DayVolume = null.FloatFrom(agg.Volume)
	row.DayDollarVolume = null.FloatFrom(agg.DollarVolume)
}

// -----------------------------------------------------------------------------

// sessionFields fills the extended-hours groups. Pre-market change is taken
// against the previous after-hours close when there was one. After-hours
// falls back to the previous trading day's session until today's opens.
func (a *AnalysisFacade) sessionFields(row *models.MScreenerRow, in RowInputs) {
	if pre := in.Premarket; pre != nil {
		row.PremarketOpen = null.FloatFrom(pre.Open)
		row.PremarketHigh = null.FloatFrom(pre.High)
		row.PremarketLow = null.FloatFrom(pre.Low)
		row.PremarketClose = null.FloatFrom(pre.Close)
		row.PremarketVolume = null.FloatFrom(pre.Volume.InexactFloat64())
		row.PremarketDollarVolume = null.FloatFrom(pre.DollarVolume.InexactFloat64())
		row.PremarketRange = core.RangePercent(row.PremarketHigh, row.PremarketLow)

		base := row.PrevClose
		if prev := in.PreviousAfterhours; prev != nil {
			base = null.FloatFrom(prev.Close)
		}
		row.PremarketChange = core.PercentChange(row.PremarketClose, base)
	}

	post, base := in.Afterhours, row.DayClose
	if post == nil {
		post, base = in.PreviousAfterhours, row.PrevClose
	}
	if post == nil {
		return
	}
	row.AfterhoursOpen = null.FloatFrom(post.Open)
	row.AfterhoursHigh = null.FloatFrom(post.High)
	row.AfterhoursLow = null.FloatFrom(post.Low)
	row.AfterhoursClose = null.FloatFrom(post.Close)
	row.AfterhoursVolume = null.FloatFrom(post.Volume.InexactFloat64())
	row.AfterhoursDollarVolume = null.FloatFrom(post.DollarVolume.InexactFloat64())
	row.AfterhoursChange = core.PercentChange(row.AfterhoursClose, base)
}

// -----------------------------------------------------------------------------

// widen combines a reference extreme with today's value.
func widen(ref, today null.Float, pick func(a, b float64) float64) null.Float {
	switch {
	case ref.Valid && today.Valid:
		return null.FloatFrom(pick(ref.Float64, today.Float64))
	case today.Valid:
		return today
	}
	return ref
}
