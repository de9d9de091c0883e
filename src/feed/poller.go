package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"screener-engine/src/ingest"
	"screener-engine/src/interfaces"
	"screener-engine/src/logger"
	"screener-engine/src/models"
	"screener-engine/src/utils"

	"golang.org/x/sync/errgroup"
)

// Chart ranges requested per resolution.
const (
	minuteRange       = "1d"
	dailyBackfill     = "2y"
	dailyRange        = "5d"
	minuteGranularity = "1m"
	dailyGranularity  = "1d"
)

// PollResult summarizes one poll.
type PollResult struct {
	Symbols  int `json:"symbols"`
	Failed   int `json:"failed"`
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
}

type seriesKey struct {
	symbol string
	res    models.Resolution
}

// Poller fetches new bars of the active universe and ingests them.
type Poller struct {
	Client      *Client
	BaseURL     string
	Directory   interfaces.IInstrumentDirectory
	Pipeline    *ingest.Pipeline
	Calendar    *utils.TradingCalendar
	Extra       []string // polled even when not in the universe, e.g. the benchmark
	Concurrency int
	Interval    time.Duration
	Logger      *logger.Logger

	Now func() time.Time

	mu   sync.Mutex
	last map[seriesKey]time.Time // newest ingested bar per series
}

// -----------------------------------------------------------------------------

func NewPoller(client *Client, baseURL string, dir interfaces.IInstrumentDirectory, pipeline *ingest.Pipeline, cal *utils.TradingCalendar, concurrency int, interval time.Duration, log *logger.Logger) *Poller {
	if log == nil {
		log = logger.NewLogger(nil, "FeedPoller")
	}
	return &Poller{
		Client:      client,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Directory:   dir,
		Pipeline:    pipeline,
		Calendar:    cal,
		Concurrency: max(concurrency, 1),
		Interval:    interval,
		Logger:      log,
		Now:         func() time.Time { return time.Now().UTC() },
		last:        make(map[seriesKey]time.Time),
	}
}

// -----------------------------------------------------------------------------

// Run polls every Interval until ctx is done. Non-trading days are skipped
// after the first poll.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	first := true
	for {
		if first || p.Calendar.IsTradingDay(p.Now()) {
			if res, err := p.PollOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.Logger.Error("Poll failed: %v", err)
			} else {
				p.Logger.Debug("Polled %d symbols: %d fetched, %d inserted, %d failed", res.Symbols, res.Fetched, res.Inserted, res.Failed)
			}
			first = false
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// -----------------------------------------------------------------------------

// PollOnce fetches minute and completed daily bars of every polled symbol
// and ingests the ones newer than what was already ingested. Symbols that
// fail to fetch are skipped; the poll fails only when all of them do.
func (p *Poller) PollOnce(ctx context.Context) (PollResult, error) {
	var res PollResult
	now := p.Now()

	symbols, err := p.symbols(ctx)
	if err != nil {
		return res, err
	}
	res.Symbols = len(symbols)
	if len(symbols) == 0 {
		return res, nil
	}

	var (
		mu    sync.Mutex
		fresh []models.MBar
		errs  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Concurrency)
	for _, symbol := range symbols {
		g.Go(func() error {
			bars, err := p.fetchSymbol(gctx, symbol, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.Logger.Warning("Error fetching symbol %s: %v", symbol, err)
				errs = append(errs, err)
				return nil
			}
			fresh = append(fresh, bars...)
			return nil
		})
	}
	_ = g.Wait()

	res.Failed = len(errs)
	res.Fetched = len(fresh)
	if res.Failed == len(symbols) {
		return res, fmt.Errorf("all fetches failed: %w", errors.Join(errs...))
	}
	if len(fresh) == 0 {
		return res, nil
	}

	ingested, err := p.Pipeline.Ingest(ctx, fresh)
	if err != nil {
		return res, fmt.Errorf("ingest %d bars: %w", len(fresh), err)
	}
	res.Inserted = ingested.Inserted
	p.advance(fresh)
	return res, nil
}

// -----------------------------------------------------------------------------

func (p *Poller) symbols(ctx context.Context) ([]string, error) {
	active, err := p.Directory.ListActiveInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active instruments: %w", err)
	}

	seen := make(map[string]bool, len(active)+len(p.Extra))
	for _, inst := range active {
		seen[inst.Symbol] = true
	}
	for _, s := range p.Extra {
		if s != "" {
			seen[strings.ToUpper(s)] = true
		}
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// -----------------------------------------------------------------------------

// fetchSymbol returns the completed bars of symbol not yet ingested. The
// running minute is left out, and so is today's daily bar until the regular
// session has closed.
func (p *Poller) fetchSymbol(ctx context.Context, symbol string, now time.Time) ([]models.MBar, error) {
	minutes, err := p.fetchSeries(ctx, symbol, models.ResolutionMinute, minuteGranularity, minuteRange)
	if err != nil {
		return nil, err
	}
	closed := minutes[:0]
	for _, b := range minutes {
		if !b.Timestamp.Add(time.Minute).After(now) {
			closed = append(closed, b)
		}
	}

	dayRange := dailyRange
	if p.since(symbol, models.ResolutionDay).IsZero() {
		dayRange = dailyBackfill
	}
	days, err := p.fetchSeries(ctx, symbol, models.ResolutionDay, dailyGranularity, dayRange)
	if err != nil {
		return nil, err
	}

	today := p.Calendar.StartOfDay(now)
	_, regularClose := p.Calendar.SessionWindow(now, models.SessionRegular)
	completed := days[:0]
	for _, b := range days {
		if b.Timestamp.Before(today) || !now.Before(regularClose) {
			completed = append(completed, b)
		}
	}

	return append(p.newer(closed), p.newer(completed)...), nil
}

// -----------------------------------------------------------------------------

func (p *Poller) fetchSeries(ctx context.Context, symbol string, res models.Resolution, interval, rng string) ([]models.MBar, error) {
	params := url.Values{}
	params.Set("interval", interval)
	params.Set("range", rng)
	if res == models.ResolutionMinute {
		params.Set("includePrePost", "true")
	}

	body, err := p.Client.Get(ctx, p.BaseURL+"/"+url.PathEscape(symbol), params)
	if err != nil {
		return nil, err
	}

	bars, skipped, err := parseChart(symbol, res, body, p.Calendar)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		p.Logger.Debug("Skipped %d invalid %s points of %s", skipped, res, symbol)
	}
	return bars, nil
}

// -----------------------------------------------------------------------------

func (p *Poller) since(symbol string, res models.Resolution) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[seriesKey{symbol, res}]
}

// newer keeps bars after the newest ingested bar of their series.
func (p *Poller) newer(bars []models.MBar) []models.MBar {
	if len(bars) == 0 {
		return nil
	}
	last := p.since(bars[0].Symbol, bars[0].Resolution)
	out := make([]models.MBar, 0, len(bars))
	for _, b := range bars {
		if last.IsZero() || b.Timestamp.After(last) {
			out = append(out, b)
		}
	}
	return out
}

// advance records the newest ingested bar of each series.
func (p *Poller) advance(bars []models.MBar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range bars {
		k := seriesKey{b.Symbol, b.Resolution}
		if b.Timestamp.After(p.last[k]) {
			p.last[k] = b.Timestamp
		}
	}
}
