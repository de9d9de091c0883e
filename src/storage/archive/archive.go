package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"screener-engine/src/models"

	"github.com/parquet-go/parquet-go"
)

// Record is one archived bar. Files are per (resolution, symbol), so neither
// is repeated in the rows.
type Record struct {
	Timestamp int64   `parquet:"t"` // Unix seconds
	Open      float64 `parquet:"o"`
	High      float64 `parquet:"h"`
	Low       float64 `parquet:"l"`
	Close     float64 `parquet:"c"`
	Volume    float64 `parquet:"v"`
}

type fileKey struct {
	res    models.Resolution
	symbol string
}

type bounds struct {
	first, last time.Time
	empty       bool
}

// Archive is the compressed cold tier: one parquet file of time-sorted bars
// per resolution and symbol.
type Archive struct {
	Dir string

	locksMu  sync.Mutex
	locks    map[fileKey]*sync.RWMutex // one per file
	boundsMu sync.Mutex
	bounds   map[fileKey]bounds
}

// -----------------------------------------------------------------------------

// New opens (creating if needed) an archive rooted at dir.
func New(dir string) (*Archive, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{Dir: dir, locks: make(map[fileKey]*sync.RWMutex), bounds: make(map[fileKey]bounds)}, nil
}

// lock returns the mutex of one file. Rewriting a file never blocks readers
// of another.
func (a *Archive) lock(k fileKey) *sync.RWMutex {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	mu, ok := a.locks[k]
	if !ok {
		mu = &sync.RWMutex{}
		a.locks[k] = mu
	}
	return mu
}

// -----------------------------------------------------------------------------

func (a *Archive) path(k fileKey) string {
	return filepath.Join(a.Dir, string(k.res), url.PathEscape(k.symbol)+".parquet")
}

// -----------------------------------------------------------------------------

// Merge adds bars of one symbol and resolution to its file. Keys already
// archived keep their stored values.
func (a *Archive) Merge(res models.Resolution, symbol string, bars []models.MBar) error {
	if len(bars) == 0 {
		return nil
	}
	k := fileKey{res, symbol}
	mu := a.lock(k)
	mu.Lock()
	defer mu.Unlock()

	existing, err := a.readLocked(k)
	if err != nil {
		return err
	}

	seen := make(map[int64]bool, len(existing)+len(bars))
	merged := make([]Record, 0, len(existing)+len(bars))
	for _, r := range existing {
		seen[r.Timestamp] = true
		merged = append(merged, r)
	}
	for _, b := range bars {
		ts := b.Timestamp.Unix()
		if seen[ts] {
			continue
		}
		seen[ts] = true
		merged = append(merged, Record{Timestamp: ts, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })

	return a.writeLocked(k, merged)
}

// -----------------------------------------------------------------------------

// Load returns every archived bar of a symbol, oldest first.
func (a *Archive) Load(res models.Resolution, symbol string) ([]models.MBar, error) {
	k := fileKey{res, symbol}
	mu := a.lock(k)
	mu.RLock()
	defer mu.RUnlock()

	records, err := a.readLocked(k)
	if err != nil {
		return nil, err
	}
	bars := make([]models.MBar, len(records))
	for i, r := range records {
		bars[i] = models.MBar{
			Symbol:     symbol,
			Resolution: res,
			Timestamp:  time.Unix(r.Timestamp, 0).UTC(),
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			Volume:     r.Volume,
		}
	}
	return bars, nil
}

// -----------------------------------------------------------------------------

// Bounds returns the first and last archived timestamps; ok is false when
// nothing is archived for the key.
func (a *Archive) Bounds(res models.Resolution, symbol string) (first, last time.Time, ok bool, err error) {
	k := fileKey{res, symbol}

	if b, cached := a.cachedBounds(k); cached {
		return b.first, b.last, !b.empty, nil
	}

	mu := a.lock(k)
	mu.RLock()
	defer mu.RUnlock()
	if _, err := a.readLocked(k); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	b, _ := a.cachedBounds(k)
	return b.first, b.last, !b.empty, nil
}

// -----------------------------------------------------------------------------

// DropBefore removes archived bars of res older than cutoff across all
// symbols and returns how many were removed. Files are rewritten one at a
// time.
func (a *Archive) DropBefore(res models.Resolution, cutoff time.Time) (int, error) {
	symbols, err := a.Symbols(res)
	if err != nil {
		return 0, err
	}

	dropped := 0
	for _, symbol := range symbols {
		n, err := a.dropFileBefore(fileKey{res, symbol}, cutoff)
		dropped += n
		if err != nil {
			return dropped, err
		}
	}
	return dropped, nil
}

func (a *Archive) dropFileBefore(k fileKey, cutoff time.Time) (int, error) {
	mu := a.lock(k)
	mu.Lock()
	defer mu.Unlock()

	records, err := a.readLocked(k)
	if err != nil {
		return 0, err
	}

	keep := records[:0:0]
	for _, r := range records {
		if r.Timestamp >= cutoff.Unix() {
			keep = append(keep, r)
		}
	}
	if len(keep) == len(records) {
		return 0, nil
	}
	return len(records) - len(keep), a.writeLocked(k, keep)
}

// -----------------------------------------------------------------------------

// Drop removes an instrument's archived bars at every resolution.
func (a *Archive) Drop(symbol string) error {
	for _, res := range models.AllResolutions {
		k := fileKey{res, symbol}
		mu := a.lock(k)
		mu.Lock()
		err := a.writeLocked(k, nil)
		mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// Symbols lists the symbols with an archive file at res.
func (a *Archive) Symbols(res models.Resolution) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.Dir, string(res)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}

	var symbols []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".parquet")
		if !ok || e.IsDir() {
			continue
		}
		symbol, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// -----------------------------------------------------------------------------

// readLocked loads a file and refreshes its cached bounds. Callers hold the
// file's lock.
func (a *Archive) readLocked(k fileKey) ([]Record, error) {
	path := a.path(k)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		a.setBounds(k, nil)
		return nil, nil
	}

	records, err := parquet.ReadFile[Record](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %s/%s: %w", k.res, k.symbol, err)
	}
	a.setBounds(k, records)
	return records, nil
}

// -----------------------------------------------------------------------------

// writeLocked replaces a file atomically; an empty slice removes it.
func (a *Archive) writeLocked(k fileKey, records []Record) error {
	path := a.path(k)
	if len(records) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove archive %s/%s: %w", k.res, k.symbol, err)
		}
		a.setBounds(k, nil)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write archive %s/%s: %w", k.res, k.symbol, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to install archive %s/%s: %w", k.res, k.symbol, err)
	}
	a.setBounds(k, records)
	return nil
}

// -----------------------------------------------------------------------------

func (a *Archive) setBounds(k fileKey, records []Record) {
	b := bounds{empty: true}
	if len(records) > 0 {
		b = bounds{
			first: time.Unix(records[0].Timestamp, 0).UTC(),
			last:  time.Unix(records[len(records)-1].Timestamp, 0).UTC(),
		}
	}

	a.boundsMu.Lock()
	a.bounds[k] = b
	a.boundsMu.Unlock()
}

func (a *Archive) cachedBounds(k fileKey) (bounds, bool) {
	a.boundsMu.Lock()
	defer a.boundsMu.Unlock()
	b, ok := a.bounds[k]
	return b, ok
}
