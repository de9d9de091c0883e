// Package memory is an in-process implementation of interfaces.IDatabase,
// used for single-node deployments without persistence and in tests.
package memory

import (
	"context"
	"sync"

	"screener-engine/src/logger"
	"screener-engine/src/models"
)

// MemoryDB keeps every table in maps guarded by per-table locks. Staleness
// entries are swapped with compare-and-swap so claimers never block each
// other.
type MemoryDB struct {
	Config *models.MConfig
	Logger *logger.Logger

	barsMu sync.RWMutex
	bars   map[models.Resolution]map[string][]models.MBar

	instrumentsMu sync.RWMutex
	instruments   map[string]models.MInstrument

	stalenessMu sync.RWMutex
	staleness   map[string]*entry

	rowsMu sync.RWMutex
	rows   map[string]models.MScreenerRow

	refsMu sync.RWMutex
	daily  map[string]models.MDailyReference
	minute map[string]models.MMinuteReference

	rollupsMu sync.Mutex
	rollups   map[models.MSessionKey]models.MSessionRollup
}

// -----------------------------------------------------------------------------

func NewMemoryDB(cfg *models.MConfig, log *logger.Logger) *MemoryDB {
	d := &MemoryDB{
		Config:      cfg,
		Logger:      log,
		bars:        make(map[models.Resolution]map[string][]models.MBar),
		instruments: make(map[string]models.MInstrument),
		staleness:   make(map[string]*entry),
		rows:        make(map[string]models.MScreenerRow),
		daily:       make(map[string]models.MDailyReference),
		minute:      make(map[string]models.MMinuteReference),
		rollups:     make(map[models.MSessionKey]models.MSessionRollup),
	}
	for _, res := range models.AllResolutions {
		d.bars[res] = make(map[string][]models.MBar)
	}
	return d
}

// -----------------------------------------------------------------------------

func (d *MemoryDB) Initialize(ctx context.Context) error {
	if d.Logger != nil {
		d.Logger.Info("memory store initialized")
	}
	return nil
}

func (d *MemoryDB) Ping(ctx context.Context) error { return nil }

func (d *MemoryDB) Close() error { return nil }
