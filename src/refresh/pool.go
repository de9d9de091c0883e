package refresh

import (
	"context"
	"sort"

	"screener-engine/src/logger"

	"golang.org/x/sync/errgroup"
)

// Pool runs independent engine workers against one store.
type Pool struct {
	Engines []*Engine
	Logger  *logger.Logger
}

// -----------------------------------------------------------------------------

// NewPool builds n workers with newEngine(id) for id in [1, n].
func NewPool(n int, newEngine func(id int) *Engine, log *logger.Logger) *Pool {
	p := &Pool{Logger: log}
	for id := 1; id <= max(n, 1); id++ {
		p.Engines = append(p.Engines, newEngine(id))
	}
	return p
}

// -----------------------------------------------------------------------------

// Run blocks until ctx is done and every worker has returned.
func (p *Pool) Run(ctx context.Context) error {
	if p.Logger != nil {
		p.Logger.Info("starting %d refresh workers", len(p.Engines))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range p.Engines {
		g.Go(func() error {
			return e.Run(gctx)
		})
	}
	return g.Wait()
}

// -----------------------------------------------------------------------------

// RecentPasses merges the latest n passes of every worker, newest first.
func (p *Pool) RecentPasses(n int) []PassStats {
	var out []PassStats
	for _, e := range p.Engines {
		if e.History != nil {
			out = append(out, e.History.Latest(n)...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.After(out[j].At)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
