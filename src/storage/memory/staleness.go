package memory

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"screener-engine/src/helpers"
	"screener-engine/src/models"

	"github.com/google/uuid"
)

// snapshot is one immutable version of a staleness entry. Every transition
// installs a new snapshot with CompareAndSwap against the one it was derived
// from, so a transition based on a stale read never lands.
type snapshot struct {
	state      models.StalenessState
	lastUpdate time.Time
	token      string
	claimedAt  time.Time
}

type entry struct {
	current atomic.Pointer[snapshot]
}

// transition retries fn until its result is installed. fn returns nil to
// leave the entry unchanged.
func (e *entry) transition(fn func(cur *snapshot) *snapshot) bool {
	for {
		cur := e.current.Load()
		next := fn(cur)
		if next == nil {
			return false
		}
		if e.current.CompareAndSwap(cur, next) {
			return true
		}
	}
}

func (s *snapshot) view(symbol string) models.MStalenessEntry {
	return models.MStalenessEntry{
		Symbol:     symbol,
		State:      s.state,
		LastUpdate: s.lastUpdate,
		ClaimToken: s.token,
		ClaimedAt:  s.claimedAt,
	}
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) entryFor(symbol string, create bool) *entry {
	d.stalenessMu.RLock()
	e := d.staleness[symbol]
	d.stalenessMu.RUnlock()
	if e != nil || !create {
		return e
	}

	d.stalenessMu.Lock()
	defer d.stalenessMu.Unlock()
	if e = d.staleness[symbol]; e == nil {
		e = &entry{}
		e.current.Store(&snapshot{state: models.StateDirty})
		d.staleness[symbol] = e
	}
	return e
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) MarkDirty(ctx context.Context, symbols []string) error {
	for _, symbol := range symbols {
		e := d.entryFor(symbol, true)
		e.transition(func(cur *snapshot) *snapshot {
			next := cur.state.AfterMarkDirty()
			if next == cur.state {
				return nil
			}
			s := *cur
			s.state = next
			return &s
		})
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) Claim(ctx context.Context, limit int, now time.Time, claimTimeout time.Duration) (*models.MClaim, error) {
	claim := &models.MClaim{Token: uuid.NewString(), ClaimedAt: now}
	if limit <= 0 {
		return claim, nil
	}

	type candidate struct {
		symbol string
		e      *entry
		seen   *snapshot
	}

	d.stalenessMu.RLock()
	candidates := make([]candidate, 0, len(d.staleness))
	for symbol, e := range d.staleness {
		cur := e.current.Load()
		if cur.view(symbol).Claimable(now, claimTimeout) {
			candidates = append(candidates, candidate{symbol, e, cur})
		}
	}
	d.stalenessMu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].seen, candidates[j].seen
		if !a.lastUpdate.Equal(b.lastUpdate) {
			return a.lastUpdate.Before(b.lastUpdate)
		}
		return candidates[i].symbol < candidates[j].symbol
	})

	for _, c := range candidates {
		if len(claim.Symbols) >= limit {
			break
		}
		won := c.e.transition(func(cur *snapshot) *snapshot {
			if !cur.view(c.symbol).Claimable(now, claimTimeout) {
				return nil
			}
			return &snapshot{
				state:      cur.state.AfterReclaim(),
				lastUpdate: cur.lastUpdate,
				token:      claim.Token,
				claimedAt:  now,
			}
		})
		if won {
			claim.Symbols = append(claim.Symbols, c.symbol)
		}
	}

	sort.Strings(claim.Symbols)
	return claim, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) Release(ctx context.Context, claim *models.MClaim) error {
	if claim.Empty() {
		return nil
	}
	for _, symbol := range claim.Symbols {
		e := d.entryFor(symbol, false)
		if e == nil {
			continue
		}
		e.transition(func(cur *snapshot) *snapshot {
			if cur.token != claim.Token || !cur.state.IsClaimed() {
				return nil
			}
			return &snapshot{state: models.StateDirty, lastUpdate: cur.lastUpdate}
		})
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) Forget(ctx context.Context, claim *models.MClaim, symbols []string) error {
	if claim.Empty() {
		return nil
	}
	d.stalenessMu.Lock()
	defer d.stalenessMu.Unlock()
	for _, symbol := range symbols {
		e := d.staleness[symbol]
		if e == nil {
			continue
		}
		if cur := e.current.Load(); cur.token == claim.Token && cur.state.IsClaimed() {
			delete(d.staleness, symbol)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// CommitRows finalizes held entries and installs their rows under the rows
// write lock, so readers never observe a finalized entry without its row and
// two commits for the same instrument install in finalize order.
func (d *MemoryDB) CommitRows(ctx context.Context, claim *models.MClaim, rows []models.MScreenerRow, now time.Time) ([]string, error) {
	if claim.Empty() || len(rows) == 0 {
		return nil, nil
	}

	d.rowsMu.Lock()
	defer d.rowsMu.Unlock()

	var committed []string
	for _, r := range rows {
		e := d.entryFor(r.Symbol, false)
		if e == nil {
			continue
		}
		held := e.transition(func(cur *snapshot) *snapshot {
			if cur.token != claim.Token || !cur.state.IsClaimed() {
				return nil
			}
			return &snapshot{state: cur.state.AfterCommit(), lastUpdate: now}
		})
		if !held {
			continue
		}
		d.rows[r.Symbol] = r
		committed = append(committed, r.Symbol)
	}

	sort.Strings(committed)
	return committed, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) GetStaleness(ctx context.Context, symbol string) (*models.MStalenessEntry, error) {
	e := d.entryFor(symbol, false)
	if e == nil {
		return nil, helpers.ErrNotFound
	}
	v := e.current.Load().view(symbol)
	return &v, nil
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) StalenessSummary(ctx context.Context) (map[models.StalenessState]int, error) {
	out := make(map[models.StalenessState]int, len(models.AllStalenessStates))
	for _, s := range models.AllStalenessStates {
		out[s] = 0
	}

	d.stalenessMu.RLock()
	defer d.stalenessMu.RUnlock()
	for _, e := range d.staleness {
		out[e.current.Load().state]++
	}
	return out, nil
}
