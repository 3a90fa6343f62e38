package optimizer_test

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/backtestlab/internal/backtest"
	"github.com/atlas-desktop/backtestlab/internal/cache"
	"github.com/atlas-desktop/backtestlab/internal/optimizer"
	"github.com/atlas-desktop/backtestlab/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type fakeCache struct{ bars []types.Bar }

func (f fakeCache) Get(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time, opts cache.GetOptions) ([]types.Bar, error) {
	return f.bars, nil
}

type noSignalStrategy struct{ warmup int }

func (s noSignalStrategy) WarmupBars() int                                  { return s.warmup }
func (noSignalStrategy) GenerateSignals(window []types.Bar) []types.Signal { return nil }

func hourlyBars(n int, start time.Time) []types.Bar {
	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		price := d("1.1000")
		bars[i] = types.Bar{Time: start.Add(time.Duration(i) * time.Hour), Open: price, High: price, Low: price, Close: price}
	}
	return bars
}

func newEngine() *backtest.Engine {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := fakeCache{bars: hourlyBars(30, start)}
	return backtest.NewEngine(zap.NewNop(), fc, backtest.FixedSlippage{})
}

func baseConfig() types.BacktestConfig {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return types.BacktestConfig{
		Symbol:          "EURUSD",
		Timeframe:       types.TimeframeH1,
		Start:           start,
		End:             start.Add(30 * time.Hour),
		InitialBalance:  d("10000"),
		PositionSizePct: d("1"),
		PipValue:        d("10"),
	}
}

// Run evaluates the full Cartesian product of the search space: 2 x 3
// candidate values yields exactly 6 combinations, one result each.
func TestRun_CartesianProductCount(t *testing.T) {
	opt := optimizer.New(zap.NewNop(), newEngine())
	results, err := opt.Run(context.Background(), optimizer.Config{
		BaseConfig: baseConfig(),
		Space: optimizer.ParamSpace{
			"fastPeriod": {5, 10},
			"slowPeriod": {20, 30, 40},
		},
		Factory: func(optimizer.ParamSet) backtest.Strategy { return noSignalStrategy{warmup: 1} },
		Metric:  func(m types.Metrics) float64 { return 0 },
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
}

// Results rank best-first according to Direction.
func TestRun_RanksByDirection(t *testing.T) {
	opt := optimizer.New(zap.NewNop(), newEngine())
	metricByPeriod := func(m types.Metrics) float64 { return 0 }

	combos := optimizer.ParamSpace{"fastPeriod": {1, 2, 3}}
	factory := func(set optimizer.ParamSet) backtest.Strategy { return noSignalStrategy{warmup: 1} }

	results, err := opt.Run(context.Background(), optimizer.Config{
		BaseConfig: baseConfig(),
		Space:      combos,
		Factory:    factory,
		Metric: func(m types.Metrics) float64 {
			_ = metricByPeriod
			return 1
		},
		Direction: optimizer.Descending,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("results not sorted descending at %d", i)
		}
	}
}

// RandomSubset sampling is deterministic: two sweeps over the same space
// with the same subset size pick the identical combinations.
func TestRun_RandomSubsetIsDeterministic(t *testing.T) {
	space := optimizer.ParamSpace{
		"fastPeriod": {1, 2, 3, 4, 5},
		"slowPeriod": {10, 20, 30, 40, 50},
	}
	factory := func(set optimizer.ParamSet) backtest.Strategy { return noSignalStrategy{warmup: 1} }

	runOnce := func() []string {
		opt := optimizer.New(zap.NewNop(), newEngine())
		results, err := opt.Run(context.Background(), optimizer.Config{
			BaseConfig:   baseConfig(),
			Space:        space,
			Factory:      factory,
			Metric:       func(m types.Metrics) float64 { return 0 },
			RandomSubset: 5,
		})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		keys := make([]string, 0, len(results))
		for _, r := range results {
			keys = append(keys, fmt.Sprintf("%v", r.Params))
		}
		sort.Strings(keys)
		return keys
	}

	a := runOnce()
	b := runOnce()
	if len(a) != len(b) {
		t.Fatalf("subset size diverged: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("subset diverged at %d: %s vs %s", i, a[i], b[i])
		}
	}
}
