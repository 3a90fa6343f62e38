// Package cache implements HistoricalDataCache: a range-indexed cache of
// JSON bar files that serves bar slices from disk and backfills from an
// upstream BrokerDataSource on miss.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	berrors "github.com/atlas-desktop/backtestlab/pkg/errors"
	"github.com/atlas-desktop/backtestlab/pkg/types"
	"go.uber.org/zap"
)

// BrokerDataSource is the external contract for fetching raw bars. The
// cache treats it as opaque; callers clean the data, cache validates.
type BrokerDataSource interface {
	Fetch(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.Bar, error)
}

// Cache is safe for many concurrent readers and one writer at a time.
type Cache struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	dataDir string
	broker  BrokerDataSource
	index   []types.FileEntry
}

// New creates a cache rooted at dataDir, creating it if necessary, and
// loads any existing metadata index. broker may be nil (cache-only mode).
func New(logger *zap.Logger, dataDir string, broker BrokerDataSource) (*Cache, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &Cache{logger: logger, dataDir: dataDir, broker: broker}
	if err := c.loadIndex(); err != nil {
		logger.Warn("failed to load cache index", zap.Error(err))
	}
	c.quarantineCorruptEntries()
	return c, nil
}

// GetOptions controls Get's fallback behavior.
type GetOptions struct {
	UseCache     bool
	UpdateCache  bool
	UseSynthetic bool
}

// Get serves bars for (symbol, timeframe, [start, end]): disk first
// when UseCache is set, then the broker on a miss (persisting the fetch
// when UpdateCache is set), then the deterministic synthetic generator
// when UseSynthetic allows it.
func (c *Cache) Get(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time, opts GetOptions) ([]types.Bar, error) {
	if opts.UseCache {
		if bars, ok := c.assembleFromDisk(symbol, timeframe, start, end); ok {
			return bars, nil
		}
	}

	if c.broker != nil {
		bars, err := c.broker.Fetch(ctx, symbol, timeframe, start, end)
		if err != nil {
			if opts.UseSynthetic {
				return c.synthetic(symbol, timeframe, start, end), nil
			}
			return nil, berrors.Wrap(berrors.BrokerUnavailable, "broker fetch failed", err)
		}
		cleaned := Validate(bars)
		if opts.UpdateCache {
			if err := c.write(symbol, timeframe, cleaned); err != nil {
				c.logger.Warn("failed to persist fetched bars", zap.Error(err))
			}
		}
		return filterRange(cleaned, start, end), nil
	}

	if opts.UseSynthetic {
		return c.synthetic(symbol, timeframe, start, end), nil
	}

	return nil, berrors.New(berrors.NoData, fmt.Sprintf("no data for %s %s [%s,%s]", symbol, timeframe, start, end))
}

// expectedBarCount estimates the number of bars a [start,end] range
// should contain given the timeframe's cadence.
func expectedBarCount(timeframe types.Timeframe, start, end time.Time) int {
	minutes := timeframe.Minutes()
	if minutes <= 0 {
		return 0
	}
	total := end.Sub(start).Minutes()
	if total <= 0 {
		return 0
	}
	return int(total / float64(minutes))
}

// assembleFromDisk concatenates all files intersecting [start,end],
// dedupes by time, sorts ascending and filters to range. Returns ok=false
// (cache miss) if coverage is below the 90% threshold.
func (c *Cache) assembleFromDisk(symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.Bar, bool) {
	c.mu.RLock()
	entries := make([]types.FileEntry, len(c.index))
	copy(entries, c.index)
	c.mu.RUnlock()

	var all []types.Bar
	for _, e := range entries {
		if e.Symbol != symbol || e.Timeframe != timeframe {
			continue
		}
		if e.LastBarTime.Before(start) || e.FirstBarTime.After(end) {
			continue
		}
		bars, err := readBarFile(e.Path)
		if err != nil {
			c.logger.Warn("dropping unreadable cache file", zap.String("path", e.Path), zap.Error(err))
			continue
		}
		all = append(all, bars...)
	}
	if len(all) == 0 {
		return nil, false
	}

	deduped := dedupeAndSort(all)
	filtered := filterRange(deduped, start, end)

	expected := expectedBarCount(timeframe, start, end)
	if expected > 0 && float64(len(filtered)) < 0.9*float64(expected) {
		return nil, false
	}
	return filtered, true
}

func filterRange(bars []types.Bar, start, end time.Time) []types.Bar {
	out := make([]types.Bar, 0, len(bars))
	for _, b := range bars {
		if (b.Time.Equal(start) || b.Time.After(start)) && (b.Time.Equal(end) || b.Time.Before(end)) {
			out = append(out, b)
		}
	}
	return out
}

func dedupeAndSort(bars []types.Bar) []types.Bar {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	out := make([]types.Bar, 0, len(bars))
	var last time.Time
	first := true
	for _, b := range bars {
		if !first && b.Time.Equal(last) {
			continue
		}
		out = append(out, b)
		last = b.Time
		first = false
	}
	return out
}

// write persists bars as a new file named
// {symbol}_{tf}_{YYYYMMDD_start}_{YYYYMMDD_end}.parquet whose content is
// a JSON array of bar records (row-wise, not a columnar layout), using a
// write-to-temp-then-rename sequence so a
// crash mid-write never corrupts existing state. Existing files are
// never mutated; a refresh always produces a new file.
func (c *Cache) write(symbol string, timeframe types.Timeframe, bars []types.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	first, last := bars[0].Time, bars[len(bars)-1].Time
	name := fmt.Sprintf("%s_%s_%s_%s.parquet", symbol, timeframe, first.Format("20060102"), last.Format("20060102"))
	path := filepath.Join(c.dataDir, name)

	data, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("marshal bars: %w", err)
	}
	sum := sha256.Sum256(data)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}

	entry := types.FileEntry{
		Path:         path,
		Symbol:       symbol,
		Timeframe:    timeframe,
		FirstBarTime: first,
		LastBarTime:  last,
		BarCount:     len(bars),
		SizeBytes:    int64(len(data)),
		SHA256:       hex.EncodeToString(sum[:]),
		CreatedAt:    time.Now(),
	}
	c.index = append(c.index, entry)
	return c.saveIndex()
}

func readBarFile(path string) ([]types.Bar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bars []types.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, berrors.Wrap(berrors.CorruptFile, "schema mismatch in "+path, err)
	}
	return bars, nil
}

// quarantineCorruptEntries scans the index on load and moves any file
// that fails to parse aside with a .quarantine suffix, dropping it from
// the index so a subsequent Get self-heals by re-fetching.
func (c *Cache) quarantineCorruptEntries() {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.index[:0]
	for _, e := range c.index {
		if _, err := readBarFile(e.Path); err != nil {
			c.logger.Warn("quarantining corrupt cache file", zap.String("path", e.Path), zap.Error(err))
			os.Rename(e.Path, e.Path+".quarantine")
			continue
		}
		kept = append(kept, e)
	}
	c.index = kept
}

func (c *Cache) indexPath() string { return filepath.Join(c.dataDir, "metadata.json") }

func (c *Cache) loadIndex() error {
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &c.index)
}

func (c *Cache) saveIndex() error {
	data, err := json.MarshalIndent(c.index, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.indexPath())
}

// Clear deletes files matching the filter (empty string/zero time means
// "any"), updating the metadata index atomically, and returns the count
// of deleted files.
func (c *Cache) Clear(symbol string, timeframe types.Timeframe, olderThan time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	kept := c.index[:0]
	for _, e := range c.index {
		match := (symbol == "" || e.Symbol == symbol) &&
			(timeframe == "" || e.Timeframe == timeframe) &&
			(olderThan.IsZero() || e.CreatedAt.Before(olderThan))
		if match {
			os.Remove(e.Path)
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	c.index = kept
	c.saveIndex()
	return deleted
}

// Stats reports the cache's current on-disk state.
func (c *Cache) Stats() types.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := types.CacheStats{TotalFiles: len(c.index)}
	symbols := map[string]bool{}
	timeframes := map[types.Timeframe]bool{}
	for _, e := range c.index {
		stats.TotalSize += e.SizeBytes
		symbols[e.Symbol] = true
		timeframes[e.Timeframe] = true
		if stats.Oldest.IsZero() || e.FirstBarTime.Before(stats.Oldest) {
			stats.Oldest = e.FirstBarTime
		}
		if e.LastBarTime.After(stats.Newest) {
			stats.Newest = e.LastBarTime
		}
	}
	stats.UniqueSymbols = len(symbols)
	stats.UniqueTimeframes = len(timeframes)
	return stats
}
