package walkforward

import (
	"context"
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

// A 365-day range with a 60-day train, 30-day test, 30-day step window
// produces exactly 10 rolling windows.
func TestGenerateWindows_RollingCount(t *testing.T) {
	fullStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{
		FullStart: fullStart,
		FullEnd:   fullStart.Add(365 * 24 * time.Hour),
		TrainDays: 60,
		TestDays:  30,
		StepDays:  30,
		Mode:      Rolling,
	}
	windows := generateWindows(cfg)
	if len(windows) != 10 {
		t.Fatalf("expected 10 windows, got %d", len(windows))
	}
	for i, w := range windows {
		if w.Index != i {
			t.Fatalf("window %d has index %d", i, w.Index)
		}
		if !w.TestStart.Equal(w.TrainEnd) {
			t.Fatalf("window %d: test_start must equal train_end", i)
		}
	}
}

// In anchored mode the training window's start never slides; only its end
// (and the following test window) advances.
func TestGenerateWindows_AnchoredKeepsTrainStartFixed(t *testing.T) {
	fullStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{
		FullStart: fullStart,
		FullEnd:   fullStart.Add(365 * 24 * time.Hour),
		TrainDays: 60,
		TestDays:  30,
		StepDays:  30,
		Mode:      Anchored,
	}
	windows := generateWindows(cfg)
	if len(windows) == 0 {
		t.Fatalf("expected at least one window")
	}
	for i, w := range windows {
		if !w.TrainStart.Equal(fullStart) {
			t.Fatalf("window %d: train_start = %s, want fixed at %s", i, w.TrainStart, fullStart)
		}
	}
	if len(windows) > 1 && !windows[1].TrainEnd.After(windows[0].TrainEnd) {
		t.Fatalf("anchored train_end must grow between windows")
	}
}

type fakeCache struct{ bars []types.Bar }

func (f fakeCache) Get(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time, opts cache.GetOptions) ([]types.Bar, error) {
	return f.bars, nil
}

type noSignalStrategy struct{}

func (noSignalStrategy) WarmupBars() int                                    { return 1 }
func (noSignalStrategy) GenerateSignals(window []types.Bar) []types.Signal { return nil }

func hourlyBars(n int, start time.Time) []types.Bar {
	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		price := d("1.1000")
		bars[i] = types.Bar{Time: start.Add(time.Duration(i) * time.Hour), Open: price, High: price, Low: price, Close: price}
	}
	return bars
}

// Running the same walk-forward config twice produces the same window
// count and the same overfitting ratio.
func TestRun_DeterministicAcrossReplays(t *testing.T) {
	fullStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fullEnd := fullStart.Add(20 * 24 * time.Hour)
	fc := fakeCache{bars: hourlyBars(int(fullEnd.Sub(fullStart).Hours()), fullStart)}

	cfg := Config{
		FullStart:  fullStart,
		FullEnd:    fullEnd,
		TrainDays:  5,
		TestDays:   2,
		StepDays:   2,
		Mode:       Rolling,
		BaseConfig: types.BacktestConfig{Symbol: "EURUSD", Timeframe: types.TimeframeH1, InitialBalance: d("10000"), PositionSizePct: d("1"), PipValue: d("10")},
		Space:      optimizer.ParamSpace{"fastPeriod": {1, 2}},
		Factory:    func(optimizer.ParamSet) backtest.Strategy { return noSignalStrategy{} },
		Metric:     func(m types.Metrics) float64 { return 0 },
	}

	run := func() *Result {
		engine := backtest.NewEngine(zap.NewNop(), fc, backtest.FixedSlippage{})
		tester := New(zap.NewNop(), engine)
		res, err := tester.Run(context.Background(), cfg)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return res
	}

	a, b := run(), run()
	if len(a.Windows) != len(b.Windows) {
		t.Fatalf("window count diverged: %d vs %d", len(a.Windows), len(b.Windows))
	}
	if a.OverfittingRatio != b.OverfittingRatio {
		t.Fatalf("overfitting ratio diverged: %v vs %v", a.OverfittingRatio, b.OverfittingRatio)
	}
}
