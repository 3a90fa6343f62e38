package cache_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/backtestlab/internal/cache"
	"github.com/atlas-desktop/backtestlab/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func hourlyBars(n int, start time.Time) []types.Bar {
	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		price := d("1.1000")
		bars[i] = types.Bar{Time: start.Add(time.Duration(i) * time.Hour), Open: price, High: price, Low: price, Close: price}
	}
	return bars
}

type fakeBroker struct {
	bars []types.Bar
}

func (f fakeBroker) Fetch(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time) ([]types.Bar, error) {
	return f.bars, nil
}

// A written entry is readable back from a fresh Cache instance pointed at
// the same directory: the on-disk write is the only state that survives.
func TestCache_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := hourlyBars(48, start)

	c1, err := cache.New(zap.NewNop(), dir, fakeBroker{bars: bars})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	end := start.Add(47 * time.Hour)
	if _, err := c1.Get(context.Background(), "EURUSD", types.TimeframeH1, start, end, cache.GetOptions{UseCache: true, UpdateCache: true}); err != nil {
		t.Fatalf("get (write path): %v", err)
	}

	c2, err := cache.New(zap.NewNop(), dir, nil)
	if err != nil {
		t.Fatalf("reopen cache: %v", err)
	}
	got, err := c2.Get(context.Background(), "EURUSD", types.TimeframeH1, start, end, cache.GetOptions{UseCache: true})
	if err != nil {
		t.Fatalf("get (read path): %v", err)
	}
	if len(got) != len(bars) {
		t.Fatalf("round trip: got %d bars, want %d", len(got), len(bars))
	}
	if !got[0].Close.Equal(bars[0].Close) {
		t.Fatalf("round trip: close mismatch")
	}
}

// Synthetic fallback is deterministic: identical (symbol, timeframe,
// range) arguments always yield the same bar series.
func TestCache_SyntheticIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	c, err := cache.New(zap.NewNop(), dir, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(72 * time.Hour)

	a, err := c.Get(context.Background(), "GBPUSD", types.TimeframeH1, start, end, cache.GetOptions{UseSynthetic: true})
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	b, err := c.Get(context.Background(), "GBPUSD", types.TimeframeH1, start, end, cache.GetOptions{UseSynthetic: true})
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	if len(a) != len(b) || len(a) == 0 {
		t.Fatalf("synthetic bar counts differ or empty: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Close.Equal(b[i].Close) {
			t.Fatalf("synthetic close diverged at %d: %s vs %s", i, a[i].Close, b[i].Close)
		}
	}
}

// A metadata index entry pointing at a file that fails to parse is
// quarantined on load rather than causing Get/Stats to fail or panic.
func TestCache_QuarantinesCorruptEntry(t *testing.T) {
	dir := t.TempDir()
	badPath := filepath.Join(dir, "EURUSD_H1_20240101_20240102.parquet")
	if err := os.WriteFile(badPath, []byte("not json bars"), 0644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	entry := types.FileEntry{
		Path:         badPath,
		Symbol:       "EURUSD",
		Timeframe:    types.TimeframeH1,
		FirstBarTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		LastBarTime:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		BarCount:     24,
	}
	idxData, err := json.Marshal([]types.FileEntry{entry})
	if err != nil {
		t.Fatalf("marshal index: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), idxData, 0644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}

	c, err := cache.New(zap.NewNop(), dir, nil)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if stats := c.Stats(); stats.TotalFiles != 0 {
		t.Fatalf("expected corrupt entry dropped from index, got %d files", stats.TotalFiles)
	}
	if _, err := os.Stat(badPath + ".quarantine"); err != nil {
		t.Fatalf("expected quarantined file on disk: %v", err)
	}
}
