// Package refresh recomputes screener rows of dirty instruments in bounded,
// claimed batches.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"screener-engine/src/analysis"
	"screener-engine/src/analysis/core"
	"screener-engine/src/config"
	"screener-engine/src/helpers"
	"screener-engine/src/interfaces"
	"screener-engine/src/logger"
	"screener-engine/src/models"
	"screener-engine/src/utils"
)

const (
	rsiCloses       = 14
	commitBaseDelay = 100 * time.Millisecond
	releaseTimeout  = 5 * time.Second
	historySize     = 128
)

// Options tunes one engine worker.
type Options struct {
	BatchLimit     int
	PassInterval   time.Duration
	PassTimeout    time.Duration
	ClaimTimeout   time.Duration
	Benchmark      string
	MaxCommitRetry int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BatchLimit:     cfg.Refresh.BatchLimit,
		PassInterval:   cfg.PassInterval(),
		PassTimeout:    cfg.PassTimeout(),
		ClaimTimeout:   cfg.ClaimTimeout(),
		Benchmark:      cfg.Refresh.Benchmark,
		MaxCommitRetry: cfg.Refresh.MaxCommitRetry,
	}
}

// PassResult summarizes one pass.
type PassResult struct {
	Claimed   int
	Committed int
	Dropped   int // claimed instruments found deactivated
}

// PassStats is one entry of a worker's pass history.
type PassStats struct {
	Worker    int           `json:"worker"`
	At        time.Time     `json:"at"`
	Duration  time.Duration `json:"duration_ns"`
	Claimed   int           `json:"claimed"`
	Committed int           `json:"committed"`
	Dropped   int           `json:"dropped,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Engine is one refresh worker. Workers share nothing but the store; the
// claim keeps them off each other's instruments.
type Engine struct {
	ID        int
	Store     interfaces.IDatabase
	Bars      interfaces.IBarStore
	Facade    *analysis.AnalysisFacade
	Calendar  *utils.TradingCalendar
	Publisher interfaces.IRowPublisher
	Logger    *logger.Logger
	Options   Options
	History   *utils.RingBuffer[PassStats]

	Now func() time.Time
}

// -----------------------------------------------------------------------------

func NewEngine(id int, opts Options, store interfaces.IDatabase, bars interfaces.IBarStore, facade *analysis.AnalysisFacade, pub interfaces.IRowPublisher, log *logger.Logger) *Engine {
	return &Engine{
		ID:        id,
		Store:     store,
		Bars:      bars,
		Facade:    facade,
		Calendar:  facade.Calendar,
		Publisher: pub,
		Logger:    log,
		Options:   opts,
		History:   utils.NewRingBuffer[PassStats](historySize),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// -----------------------------------------------------------------------------

// RunPass claims up to BatchLimit dirty instruments, recomputes their rows
// against a single snapshot time and commits them together. On failure the
// claim is released and a *helpers.BatchError is returned.
func (e *Engine) RunPass(ctx context.Context) (PassResult, error) {
	now := e.Now()
	started := time.Now()

	res, err := e.runPass(ctx, now)
	e.record(now, time.Since(started), res, err)
	return res, err
}

// -----------------------------------------------------------------------------

func (e *Engine) runPass(ctx context.Context, now time.Time) (PassResult, error) {
	var res PassResult

	if e.Options.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Options.PassTimeout)
		defer cancel()
	}

	claim, err := e.Store.Claim(ctx, e.Options.BatchLimit, now, e.Options.ClaimTimeout)
	if err != nil {
		return res, err
	}
	if claim.Empty() {
		return res, nil
	}
	res.Claimed = len(claim.Symbols)

	rows, dropped, err := e.buildRows(ctx, claim.Symbols, now)
	if err != nil {
		return res, e.fail(ctx, claim, err)
	}
	if len(dropped) > 0 {
		if err := e.Store.Forget(ctx, claim, dropped); err != nil {
			return res, e.fail(ctx, claim, fmt.Errorf("forget inactive: %w", err))
		}
		res.Dropped = len(dropped)
	}

	var committed []string
	err = helpers.RetryWithBackoff(ctx, e.Logger, "commit rows", e.Options.MaxCommitRetry, commitBaseDelay, func() error {
		var cerr error
		committed, cerr = e.Store.CommitRows(ctx, claim, rows, now)
		return cerr
	})
	if err != nil {
		return res, e.fail(ctx, claim, err)
	}
	res.Committed = len(committed)

	if lost := res.Claimed - res.Dropped - res.Committed; lost > 0 && e.Logger != nil {
		e.Logger.Warning("worker %d lost %d of %d claimed instruments before commit", e.ID, lost, res.Claimed)
	}
	e.publish(ctx, rows, committed)
	return res, nil
}

// -----------------------------------------------------------------------------

// record keeps passes that claimed something or failed.
func (e *Engine) record(now time.Time, took time.Duration, res PassResult, err error) {
	if e.History == nil || (res.Claimed == 0 && err == nil) {
		return
	}
	stats := PassStats{
		Worker:    e.ID,
		At:        now,
		Duration:  took,
		Claimed:   res.Claimed,
		Committed: res.Committed,
		Dropped:   res.Dropped,
	}
	if err != nil {
		stats.Error = err.Error()
	}
	e.History.Append(stats)
}

// -----------------------------------------------------------------------------

// fail releases the claim on a context that outlives the pass deadline.
func (e *Engine) fail(ctx context.Context, claim *models.MClaim, cause error) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := e.Store.Release(rctx, claim); err != nil {
		cause = errors.Join(cause, fmt.Errorf("release: %w", err))
	}
	return helpers.NewBatchError(claim.Symbols, cause)
}

// -----------------------------------------------------------------------------

func (e *Engine) publish(ctx context.Context, rows []models.MScreenerRow, committed []string) {
	if e.Publisher == nil || len(committed) == 0 {
		return
	}
	keep := make(map[string]bool, len(committed))
	for _, s := range committed {
		keep[s] = true
	}
	out := make([]models.MScreenerRow, 0, len(committed))
	for _, r := range rows {
		if keep[r.Symbol] {
			out = append(out, r)
		}
	}
	if err := e.Publisher.PublishRows(ctx, out); err != nil && e.Logger != nil {
		e.Logger.Warning("publish %d rows: %v", len(out), err)
	}
}

// -----------------------------------------------------------------------------

// Run loops passes until ctx is done. A pass that filled its batch is
// followed immediately by another; failed passes are logged and retried on
// the next tick.
func (e *Engine) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		for {
			res, err := e.RunPass(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if e.Logger != nil {
					e.Logger.Error("worker %d pass failed: %v", e.ID, err)
				}
				break
			}
			if res.Claimed > 0 && e.Logger != nil {
				e.Logger.Debug("worker %d committed %d/%d rows", e.ID, res.Committed, res.Claimed)
			}
			if res.Claimed == 0 || res.Claimed < e.Options.BatchLimit || ctx.Err() != nil {
				break
			}
		}
		timer.Reset(e.Options.PassInterval)
	}
}

// -----------------------------------------------------------------------------

// buildRows joins every input of the claimed instruments at now and
// computes their rows. Deactivated instruments get no row and are returned
// separately.
func (e *Engine) buildRows(ctx context.Context, symbols []string, now time.Time) ([]models.MScreenerRow, []string, error) {
	bench, err := e.benchmark(ctx, now)
	if err != nil {
		return nil, nil, fmt.Errorf("benchmark %s: %w", e.Options.Benchmark, err)
	}

	var dropped []string
	rows := make([]models.MScreenerRow, 0, len(symbols))
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		in, active, err := e.gather(ctx, symbol, now)
		if err != nil {
			return nil, nil, fmt.Errorf("inputs of %s: %w", symbol, err)
		}
		if !active {
			dropped = append(dropped, symbol)
			continue
		}
		in.Benchmark = bench
		rows = append(rows, e.Facade.ComputeRow(in, now))
	}
	return rows, dropped, nil
}

// -----------------------------------------------------------------------------

func (e *Engine) benchmark(ctx context.Context, now time.Time) (*analysis.BenchmarkContext, error) {
	if e.Options.Benchmark == "" {
		return nil, nil
	}
	symbol := e.Options.Benchmark

	daily, err := e.Bars.LatestBar(ctx, symbol, models.ResolutionDay, now)
	if err != nil {
		return nil, err
	}
	minute, err := e.Bars.LatestBar(ctx, symbol, models.ResolutionMinute, now)
	if err != nil {
		return nil, err
	}
	ref, err := e.Store.GetDailyReference(ctx, symbol)
	if err != nil {
		return nil, err
	}

	return &analysis.BenchmarkContext{
		Symbol: symbol,
		Price:  analysis.CurrentPrice(daily, minute),
		Daily:  ref,
	}, nil
}

// -----------------------------------------------------------------------------

// gather reads the inputs of one instrument. It reports false, reading
// nothing else, when the directory holds the instrument as inactive.
func (e *Engine) gather(ctx context.Context, symbol string, now time.Time) (analysis.RowInputs, bool, error) {
	in := analysis.RowInputs{Instrument: models.MInstrument{Symbol: symbol}}

	inst, err := e.Store.GetInstrument(ctx, symbol)
	switch {
	case err == nil:
		if !inst.Active {
			return in, false, nil
		}
		in.Instrument = *inst
	case !errors.Is(err, helpers.ErrNotFound):
		return in, false, err
	}
	in, err = e.read(ctx, in, now)
	return in, err == nil, err
}

// -----------------------------------------------------------------------------

func (e *Engine) read(ctx context.Context, in analysis.RowInputs, now time.Time) (analysis.RowInputs, error) {
	symbol := in.Instrument.Symbol
	var err error

	if in.DailyBar, err = e.Bars.LatestBar(ctx, symbol, models.ResolutionDay, now); err != nil {
		return in, err
	}
	if in.MinuteBar, err = e.Bars.LatestBar(ctx, symbol, models.ResolutionMinute, now); err != nil {
		return in, err
	}

	open, closeAt := e.Calendar.SessionWindow(now, models.SessionRegular)
	if !now.Before(open) {
		to := closeAt.Add(-time.Nanosecond)
		if now.Before(to) {
			to = now
		}
		if in.TodayMinutes, err = e.Bars.RangeBars(ctx, symbol, models.ResolutionMinute, open, to); err != nil {
			return in, err
		}
	}

	beforeToday := e.Calendar.StartOfDay(now).Add(-time.Nanosecond)
	recent, err := e.Bars.LastBars(ctx, symbol, models.ResolutionDay, beforeToday, rsiCloses)
	if err != nil {
		return in, err
	}
	in.RecentCloses = core.Closes(recent)

	if in.Daily, err = e.Store.GetDailyReference(ctx, symbol); err != nil {
		return in, err
	}
	if in.Minute, err = e.Store.GetMinuteReference(ctx, symbol); err != nil {
		return in, err
	}

	today := e.Calendar.DayKey(now)
	previous := e.Calendar.DayKey(e.Calendar.PreviousTradingDay(now))
	for _, r := range []struct {
		dst  **models.MSessionRollup
		day  string
		kind models.Session
	}{
		{&in.Premarket, today, models.SessionPremarket},
		{&in.Afterhours, today, models.SessionAfterhours},
		{&in.PreviousAfterhours, previous, models.SessionAfterhours},
	} {
		if *r.dst, err = e.Store.GetRollup(ctx, models.MSessionKey{Symbol: symbol, Day: r.day, Session: r.kind}); err != nil {
			return in, err
		}
	}
	return in, nil
}
