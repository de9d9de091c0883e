package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"screener-engine/src/helpers"
	"screener-engine/src/ingest"
	"screener-engine/src/models"
	"screener-engine/src/sessions"
	"screener-engine/src/storage/memory"
	"screener-engine/src/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tuesday 2024-03-12, 11:00:30 in New York.
var now = time.Date(2024, 3, 12, 15, 0, 30, 0, time.UTC)

type point struct {
	at    time.Time
	close *float64
}

func price(v float64) *float64 { return &v }

// chartJSON renders points the way the chart API does; a nil close leaves
// every field of the point null.
func chartJSON(symbol string, points []point) []byte {
	var ts []int64
	var open, high, low, closes, volume []*float64
	for _, p := range points {
		ts = append(ts, p.at.Unix())
		if p.close == nil {
			open, high, low, closes, volume = append(open, nil), append(high, nil), append(low, nil), append(closes, nil), append(volume, nil)
			continue
		}
		c := *p.close
		open = append(open, price(c))
		high = append(high, price(c+1))
		low = append(low, price(c-1))
		closes = append(closes, price(c))
		volume = append(volume, price(1000))
	}

	body := map[string]any{
		"chart": map[string]any{
			"result": []any{map[string]any{
				"meta":      map[string]any{"symbol": symbol},
				"timestamp": ts,
				"indicators": map[string]any{
					"quote": []any{map[string]any{"open": open, "high": high, "low": low, "close": closes, "volume": volume}},
				},
			}},
			"error": nil,
		},
	}
	data, _ := json.Marshal(body)
	return data
}

// -----------------------------------------------------------------------------

func TestParseChart(t *testing.T) {
	cal := utils.GetCalendar("XNYS")

	minutes := chartJSON("ABC", []point{
		{now.Add(-time.Minute), price(101)},
		{now.Add(-2 * time.Minute), price(100)},
		{now.Add(-3 * time.Minute), nil},
		{now.Add(-4 * time.Minute), price(0)},
	})
	bars, skipped, err := parseChart("ABC", models.ResolutionMinute, minutes, cal)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, bars, 2)
	assert.Equal(t, 100.0, bars[0].Close)
	assert.Equal(t, 101.0, bars[1].Close)
	assert.True(t, bars[0].Timestamp.Before(bars[1].Timestamp))

	// Daily points arrive at the session open and are restamped at midnight.
	days := chartJSON("ABC", []point{
		{time.Date(2024, 3, 8, 14, 30, 0, 0, time.UTC), price(90)},
		{time.Date(2024, 3, 11, 13, 30, 0, 0, time.UTC), price(95)},
	})
	bars, _, err = parseChart("ABC", models.ResolutionDay, days, cal)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Timestamp.Equal(time.Date(2024, 3, 8, 5, 0, 0, 0, time.UTC)))
	assert.True(t, bars[1].Timestamp.Equal(time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC)))

	_, _, err = parseChart("ABC", models.ResolutionDay, []byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`), cal)
	assert.ErrorContains(t, err, "No data found")
}

// -----------------------------------------------------------------------------

func TestClientRetriesBlockedRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/missing"):
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		case calls.Add(1) == 1:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			assert.Equal(t, "1m", r.URL.Query().Get("interval"))
			assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	client := NewClient(time.Second, 2, "test-agent", []string{"127.0.0.1:1", "ftp://proxy:21"}, nil)
	client.RetryDelay = time.Millisecond
	// The test server is reached directly.
	client.HTTP.Transport = http.DefaultTransport

	body, err := client.Get(context.Background(), srv.URL+"/ABC", map[string][]string{"interval": {"1m"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, client.proxies.proxies, 1)

	calls.Store(0)
	_, err = client.Get(context.Background(), srv.URL+"/missing", nil)
	assert.ErrorIs(t, err, helpers.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

// -----------------------------------------------------------------------------

// chartServer serves fixed minute and daily series for every symbol except
// the ones in failing, and records the requested daily ranges.
type chartServer struct {
	*httptest.Server
	failing map[string]bool

	mu     sync.Mutex
	ranges []string
}

func newChartServer(t *testing.T, failing ...string) *chartServer {
	cs := &chartServer{failing: make(map[string]bool)}
	for _, s := range failing {
		cs.failing[s] = true
	}

	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		if cs.failing[symbol] {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		q := r.URL.Query()
		if q.Get("interval") == "1d" {
			cs.mu.Lock()
			cs.ranges = append(cs.ranges, q.Get("range"))
			cs.mu.Unlock()
			_, _ = w.Write(chartJSON(symbol, []point{
				{time.Date(2024, 3, 8, 14, 30, 0, 0, time.UTC), price(90)},
				{time.Date(2024, 3, 11, 13, 30, 0, 0, time.UTC), price(95)},
				{time.Date(2024, 3, 12, 13, 30, 0, 0, time.UTC), price(99)}, // today, still trading
			}))
			return
		}

		assert.Equal(t, "true", q.Get("includePrePost"))
		_, _ = w.Write(chartJSON(symbol, []point{
			{time.Date(2024, 3, 12, 14, 58, 0, 0, time.UTC), price(100)},
			{time.Date(2024, 3, 12, 14, 59, 0, 0, time.UTC), price(101)},
			{time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC), price(102)}, // running minute
		}))
	}))
	t.Cleanup(cs.Close)
	return cs
}

func newPoller(t *testing.T, baseURL string) (*Poller, *memory.MemoryDB) {
	t.Helper()
	db := memory.NewMemoryDB(&models.MConfig{}, nil)
	cal := utils.GetCalendar("XNYS")
	pipeline := ingest.NewPipeline(db, db, sessions.NewMaintainer(db, db, cal, 3, nil), nil, nil)
	require.NoError(t, pipeline.RegisterInstruments(context.Background(), []models.MInstrument{
		{Symbol: "ABC", Name: "ABC Corp", Active: true},
		{Symbol: "OLD", Name: "Old Corp", Active: false},
	}))

	client := NewClient(time.Second, 0, "", nil, nil)
	client.RetryDelay = time.Millisecond
	p := NewPoller(client, baseURL+"/", db, pipeline, cal, 2, time.Hour, nil)
	p.Extra = []string{"spy"}
	p.Now = func() time.Time { return now }
	return p, db
}

// -----------------------------------------------------------------------------

func TestPollOnceIngestsCompletedBars(t *testing.T) {
	ctx := context.Background()
	cs := newChartServer(t)
	p, db := newPoller(t, cs.URL)

	res, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Symbols)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 8, res.Fetched)
	assert.Equal(t, 8, res.Inserted)

	minute, err := db.LatestBar(ctx, "ABC", models.ResolutionMinute, now)
	require.NoError(t, err)
	require.NotNil(t, minute)
	assert.Equal(t, 101.0, minute.Close)

	daily, err := db.LatestBar(ctx, "SPY", models.ResolutionDay, now)
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, 95.0, daily.Close)

	old, err := db.LatestBar(ctx, "OLD", models.ResolutionMinute, now)
	require.NoError(t, err)
	assert.Nil(t, old)

	// Nothing new the second time; daily history is only backfilled once.
	res, err = p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Fetched)
	assert.ElementsMatch(t, []string{"2y", "2y", "5d", "5d"}, cs.ranges)
}

func TestPollOnceSkipsFailingSymbols(t *testing.T) {
	ctx := context.Background()

	cs := newChartServer(t, "SPY")
	p, _ := newPoller(t, cs.URL)
	res, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 4, res.Inserted)

	cs = newChartServer(t, "SPY", "ABC")
	p, _ = newPoller(t, cs.URL)
	_, err = p.PollOnce(ctx)
	assert.ErrorContains(t, err, "all fetches failed")
}

func TestPollAfterCloseIncludesToday(t *testing.T) {
	ctx := context.Background()
	cs := newChartServer(t)
	p, db := newPoller(t, cs.URL)
	p.Now = func() time.Time { return time.Date(2024, 3, 12, 20, 30, 0, 0, time.UTC) }

	_, err := p.PollOnce(ctx)
	require.NoError(t, err)

	daily, err := db.LatestBar(ctx, "ABC", models.ResolutionDay, p.Now())
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, 99.0, daily.Close)
}
