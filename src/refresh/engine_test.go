package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"screener-engine/src/analysis"
	"screener-engine/src/helpers"
	"screener-engine/src/interfaces"
	"screener-engine/src/models"
	"screener-engine/src/storage/memory"
	"screener-engine/src/utils"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tuesday 2024-03-12, 11:00:30.25 in New York.
var now = time.Date(2024, 3, 12, 15, 0, 30, 250_000_000, time.UTC)

type recorder struct {
	mu   sync.Mutex
	rows []models.MScreenerRow
}

func (r *recorder) PublishRows(ctx context.Context, rows []models.MScreenerRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, rows...)
	return nil
}

func (r *recorder) RemoveRow(ctx context.Context, symbol string) error { return nil }
func (r *recorder) Close() error                                       { return nil }

func (r *recorder) symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.rows))
	for i, row := range r.rows {
		out[i] = row.Symbol
	}
	return out
}

// -----------------------------------------------------------------------------

func newEngine(id int, store interfaces.IDatabase, pub interfaces.IRowPublisher, batch int) *Engine {
	facade := analysis.NewAnalysisFacade(utils.GetCalendar("XNYS"), nil)
	opts := Options{
		BatchLimit:     batch,
		PassInterval:   time.Hour,
		PassTimeout:    10 * time.Second,
		ClaimTimeout:   time.Minute,
		Benchmark:      "SPY",
		MaxCommitRetry: 1,
	}
	e := NewEngine(id, opts, store, store, facade, pub, nil)
	e.Now = func() time.Time { return now }
	return e
}

func seed(t *testing.T, db *memory.MemoryDB, n int) []string {
	t.Helper()
	ctx := context.Background()
	symbols := make([]string, n)
	instruments := make([]models.MInstrument, n)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%03d", i)
		instruments[i] = models.MInstrument{Symbol: symbols[i], Name: "Company " + symbols[i], Active: true}
	}
	require.NoError(t, db.UpsertInstruments(ctx, instruments))
	require.NoError(t, db.MarkDirty(ctx, symbols))
	return symbols
}

func state(t *testing.T, db interfaces.IDatabase, symbol string) models.StalenessState {
	t.Helper()
	e, err := db.GetStaleness(context.Background(), symbol)
	require.NoError(t, err)
	return e.State
}

// -----------------------------------------------------------------------------

func TestPassCommitsOneSnapshot(t *testing.T) {
	ctx := context.Background()
	db := memory.NewMemoryDB(&models.MConfig{}, nil)
	symbols := seed(t, db, 5)

	var bars []models.MBar
	var refs []models.MDailyReference
	for i, s := range append([]string{"SPY"}, symbols...) {
		c := 100 + float64(i)
		bars = append(bars, models.MBar{Symbol: s, Resolution: models.ResolutionMinute, Timestamp: now.Truncate(time.Minute),
			Open: c, High: c, Low: c, Close: c, Volume: 10})
		refs = append(refs, models.MDailyReference{Symbol: s, ComputedAt: now, PrevClose: null.FloatFrom(c - 1), Close1m: null.FloatFrom(c - 5)})
	}
	_, err := db.AppendBars(ctx, bars)
	require.NoError(t, err)
	require.NoError(t, db.UpsertDailyReferences(ctx, refs))

	pub := &recorder{}
	res, err := newEngine(1, db, pub, 100).RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{Claimed: 5, Committed: 5}, res)

	rows, err := db.ListRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for _, row := range rows {
		assert.Equal(t, now.Truncate(time.Second), row.SnapshotAt, row.Symbol)
		assert.Equal(t, "Company "+row.Symbol, row.Name)
		assert.True(t, row.Change.Valid, row.Symbol)
		assert.True(t, row.Beta1m.Valid, row.Symbol)
		assert.Equal(t, models.StateFresh, state(t, db, row.Symbol))
	}
	assert.ElementsMatch(t, symbols, pub.symbols())

	res, err = newEngine(1, db, pub, 100).RunPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
}

// -----------------------------------------------------------------------------

func TestUnknownInstrumentGetsIdentityRow(t *testing.T) {
	ctx := context.Background()
	db := memory.NewMemoryDB(&models.MConfig{}, nil)
	require.NoError(t, db.MarkDirty(ctx, []string{"NEW"}))

	res, err := newEngine(1, db, nil, 10).RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Committed)

	row, err := db.GetRow(ctx, "NEW")
	require.NoError(t, err)
	assert.Equal(t, "NEW", row.Symbol)
	assert.False(t, row.Price.Valid)
	assert.Equal(t, models.StateFresh, state(t, db, "NEW"))
}

// -----------------------------------------------------------------------------

func TestDeactivatedInstrumentGetsNoRow(t *testing.T) {
	ctx := context.Background()
	db := memory.NewMemoryDB(&models.MConfig{}, nil)
	seed(t, db, 1)

	res, err := newEngine(1, db, nil, 10).RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Committed)

	// A mark computed from an older view of the universe lands after the
	// deactivation.
	require.NoError(t, db.DeactivateInstrument(ctx, "S000"))
	require.NoError(t, db.MarkDirty(ctx, []string{"S000"}))

	e := newEngine(1, db, nil, 10)
	res, err = e.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{Claimed: 1, Dropped: 1}, res)
	assert.Equal(t, 1, e.History.All()[0].Dropped)

	_, err = db.GetRow(ctx, "S000")
	assert.ErrorIs(t, err, helpers.ErrNotFound)
	_, err = db.GetStaleness(ctx, "S000")
	assert.ErrorIs(t, err, helpers.ErrNotFound)

	res, err = newEngine(1, db, nil, 10).RunPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
}

// -----------------------------------------------------------------------------

func TestConcurrentWorkersNeverShareInstruments(t *testing.T) {
	ctx := context.Background()
	db := memory.NewMemoryDB(&models.MConfig{}, nil)
	symbols := seed(t, db, 80)

	pub := &recorder{}
	engines := []*Engine{newEngine(1, db, pub, 50), newEngine(2, db, pub, 50)}

	var committed atomic.Int64
	for round := 0; round < 5; round++ {
		var wg sync.WaitGroup
		for _, e := range engines {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := e.RunPass(ctx)
				assert.NoError(t, err)
				assert.Equal(t, res.Claimed, res.Committed)
				committed.Add(int64(res.Committed))
			}()
		}
		wg.Wait()
	}

	assert.Equal(t, int64(80), committed.Load())
	assert.ElementsMatch(t, symbols, pub.symbols(), "every instrument published exactly once")
	summary, err := db.StalenessSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80, summary[models.StateFresh])
}

// -----------------------------------------------------------------------------

type failingStore struct {
	*memory.MemoryDB
	commits atomic.Int32
}

func (f *failingStore) CommitRows(ctx context.Context, claim *models.MClaim, rows []models.MScreenerRow, now time.Time) ([]string, error) {
	f.commits.Add(1)
	return nil, errors.New("disk full")
}

func TestFailedCommitReleasesClaim(t *testing.T) {
	ctx := context.Background()
	db := memory.NewMemoryDB(&models.MConfig{}, nil)
	symbols := seed(t, db, 3)
	store := &failingStore{MemoryDB: db}

	failing := newEngine(1, store, nil, 10)
	_, err := failing.RunPass(ctx)
	require.Error(t, err)

	history := failing.History.All()
	require.Len(t, history, 1)
	assert.Equal(t, 3, history[0].Claimed)
	assert.Zero(t, history[0].Committed)
	assert.Contains(t, history[0].Error, "disk full")

	var batchErr *helpers.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.ElementsMatch(t, symbols, batchErr.Symbols)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, int32(1), store.commits.Load())

	for _, s := range symbols {
		assert.Equal(t, models.StateDirty, state(t, db, s))
		_, err := db.GetRow(ctx, s)
		assert.ErrorIs(t, err, helpers.ErrNotFound)
	}

	res, err := newEngine(2, db, nil, 10).RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Committed)
}

// -----------------------------------------------------------------------------

// redirtyStore marks the instrument dirty again while the pass reads it.
type redirtyStore struct {
	*memory.MemoryDB
	once sync.Once
}

func (r *redirtyStore) GetInstrument(ctx context.Context, symbol string) (*models.MInstrument, error) {
	r.once.Do(func() {
		_ = r.MarkDirty(ctx, []string{symbol})
	})
	return r.MemoryDB.GetInstrument(ctx, symbol)
}

func TestChangeDuringPassKeepsInstrumentDirty(t *testing.T) {
	ctx := context.Background()
	db := memory.NewMemoryDB(&models.MConfig{}, nil)
	seed(t, db, 1)
	store := &redirtyStore{MemoryDB: db}

	res, err := newEngine(1, store, nil, 10).RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Committed)

	_, err = db.GetRow(ctx, "S000")
	require.NoError(t, err)
	assert.Equal(t, models.StateDirty, state(t, db, "S000"))

	res, err = newEngine(1, db, nil, 10).RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Committed)
	assert.Equal(t, models.StateFresh, state(t, db, "S000"))
}

// -----------------------------------------------------------------------------

func TestRunDrainsFullBatches(t *testing.T) {
	db := memory.NewMemoryDB(&models.MConfig{}, nil)
	symbols := seed(t, db, 25)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newEngine(1, db, nil, 10).Run(ctx) }()

	require.Eventually(t, func() bool {
		summary, err := db.StalenessSummary(context.Background())
		return err == nil && summary[models.StateFresh] == len(symbols)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestPoolRunsEveryWorker(t *testing.T) {
	db := memory.NewMemoryDB(&models.MConfig{}, nil)
	symbols := seed(t, db, 30)
	pub := &recorder{}

	pool := NewPool(3, func(id int) *Engine { return newEngine(id, db, pub, 5) }, nil)
	require.Len(t, pool.Engines, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(pub.symbols()) == len(symbols)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.ElementsMatch(t, symbols, pub.symbols())

	committed := 0
	for _, p := range pool.RecentPasses(100) {
		committed += p.Committed
	}
	assert.Equal(t, len(symbols), committed)
}
