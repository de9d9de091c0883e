package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"screener-engine/src/ingest"
	"screener-engine/src/models"
	"screener-engine/src/refresh"
	"screener-engine/src/sessions"
	"screener-engine/src/storage/memory"
	"screener-engine/src/utils"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var snapshot = time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC)

func newServer(t *testing.T) (*APIServer, *memory.MemoryDB) {
	t.Helper()
	ctx := context.Background()
	cfg := &models.MConfig{Host: "127.0.0.1", Port: 8080}
	db := memory.NewMemoryDB(cfg, nil)
	pipeline := ingest.NewPipeline(db, db, sessions.NewMaintainer(db, db, utils.GetCalendar("XNYS"), 3, nil), nil, nil)

	// Commit three rows the way the refresh engine does.
	symbols := []string{"AAA", "BBB", "CCC"}
	changes := []null.Float{null.FloatFrom(1.5), {}, null.FloatFrom(-2)}
	require.NoError(t, db.MarkDirty(ctx, symbols))
	claim, err := db.Claim(ctx, 10, snapshot, time.Minute)
	require.NoError(t, err)
	rows := make([]models.MScreenerRow, len(symbols))
	for i, s := range symbols {
		rows[i] = models.MScreenerRow{Symbol: s, SnapshotAt: snapshot, Price: null.FloatFrom(10 * float64(i+1)), Change: changes[i]}
	}
	_, err = db.CommitRows(ctx, claim, rows, snapshot)
	require.NoError(t, err)

	return NewAPIServer(cfg, db, pipeline, nil), db
}

func do(t *testing.T, s *APIServer, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

// -----------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	s, _ := newServer(t)
	w, body := do(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestListRowsSortsNullsLast(t *testing.T) {
	s, _ := newServer(t)

	w, body := do(t, s, http.MethodGet, "/api/screener?fields=change,price&sort=-change", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3.0, body["count"])

	rows := body["rows"].([]any)
	order := make([]string, len(rows))
	for i, r := range rows {
		order[i] = r.(map[string]any)["symbol"].(string)
	}
	assert.Equal(t, []string{"AAA", "CCC", "BBB"}, order)

	first := rows[0].(map[string]any)
	assert.Equal(t, 1.5, first["change"])
	assert.Contains(t, first, "price")
	assert.NotContains(t, first, "ma_50")
	assert.Nil(t, rows[2].(map[string]any)["change"])

	w, body = do(t, s, http.MethodGet, "/api/screener?sort=change&limit=1&symbols=bbb,ccc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows = body["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "CCC", rows[0].(map[string]any)["symbol"])
}

func TestListRowsRejectsUnknownField(t *testing.T) {
	s, _ := newServer(t)
	for _, path := range []string{"/api/screener?fields=nope", "/api/screener?sort=nope", "/api/screener?limit=0"} {
		w, _ := do(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

// -----------------------------------------------------------------------------

func TestGetRowAndFields(t *testing.T) {
	s, _ := newServer(t)

	w, body := do(t, s, http.MethodGet, "/api/screener/aaa", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AAA", body["symbol"])
	assert.Equal(t, 10.0, body["price"])

	w, _ = do(t, s, http.MethodGet, "/api/screener/ZZZ", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = do(t, s, http.MethodGet, "/api/screener/fields", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["fields"], len(models.ScreenerFields))
}

// -----------------------------------------------------------------------------

func TestIngestionHooks(t *testing.T) {
	s, db := newServer(t)
	ctx := context.Background()

	w, _ := do(t, s, http.MethodPost, "/api/instruments", []models.MInstrument{{Symbol: "AAA", Name: "Aaa", Active: true}})
	require.Equal(t, http.StatusOK, w.Code)

	bars := []models.MBar{{Symbol: "AAA", Resolution: models.ResolutionMinute, Timestamp: snapshot,
		Open: 1, High: 2, Low: 1, Close: 2, Volume: 10}}
	w, body := do(t, s, http.MethodPost, "/api/bars", bars)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["inserted"])

	entry, err := db.GetStaleness(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, models.StateDirty, entry.State)

	w, body = do(t, s, http.MethodGet, "/api/staleness", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body[string(models.StateDirty)])

	bars[0].High = 0
	w, _ = do(t, s, http.MethodPost, "/api/bars", bars)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, s, http.MethodDelete, "/api/instruments/AAA", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = do(t, s, http.MethodGet, "/api/screener/AAA", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPasses(t *testing.T) {
	s, _ := newServer(t)
	w, _ := do(t, s, http.MethodGet, "/api/passes", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	engine := &refresh.Engine{ID: 1, History: utils.NewRingBuffer[refresh.PassStats](8)}
	for i := 1; i <= 3; i++ {
		engine.History.Append(refresh.PassStats{Worker: 1, At: snapshot.Add(time.Duration(i) * time.Second), Claimed: i, Committed: i})
	}
	s.Workers = &refresh.Pool{Engines: []*refresh.Engine{engine}}

	w, body := do(t, s, http.MethodGet, "/api/passes?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"])
	passes := body["passes"].([]any)
	assert.EqualValues(t, 3, passes[0].(map[string]any)["claimed"])

	w, _ = do(t, s, http.MethodGet, "/api/passes?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBarsResamples(t *testing.T) {
	s, db := newServer(t)
	ctx := context.Background()

	var bars []models.MBar
	for i := 0; i < 7; i++ {
		c := 10 + float64(i)
		bars = append(bars, models.MBar{Symbol: "AAA", Resolution: models.ResolutionMinute, Timestamp: snapshot.Add(time.Duration(i) * time.Minute),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100})
	}
	_, err := db.AppendBars(ctx, bars)
	require.NoError(t, err)

	from := snapshot.Format(time.RFC3339)
	to := snapshot.Add(time.Hour).Format(time.RFC3339)

	w, body := do(t, s, http.MethodGet, "/api/bars/aaa?from="+from+"&to="+to, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 7, body["count"])

	w, body = do(t, s, http.MethodGet, "/api/bars/aaa?from="+from+"&to="+to+"&window=5m", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, body["count"])
	first := body["bars"].([]any)[0].(map[string]any)
	assert.Equal(t, "minute", first["resolution"])
	assert.EqualValues(t, 14, first["close"])
	assert.EqualValues(t, 500, first["volume"])

	for _, path := range []string{
		"/api/bars/aaa?resolution=month",
		"/api/bars/aaa?window=30s",
		"/api/bars/aaa?from=yesterday",
		"/api/bars/aaa?from=" + to + "&to=" + from,
	} {
		w, _ := do(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}
