// Package walkforward evaluates parameter stability over time: it
// slides a train/test window across a date range, runs the optimizer on
// each training slice, backtests the top-ranked parameter set on the
// following testing slice, and aggregates an overfitting ratio across
// windows.
package walkforward

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/backtestlab/internal/backtest"
	"github.com/atlas-desktop/backtestlab/internal/optimizer"
	"github.com/atlas-desktop/backtestlab/pkg/errors"
	"github.com/atlas-desktop/backtestlab/pkg/types"
)

// Mode selects how the training window's start date behaves as the walk
// slides forward.
type Mode int

const (
	// Rolling slides both the train start and train end forward by step
	// each window, keeping a fixed train length.
	Rolling Mode = iota
	// Anchored keeps the train start fixed at full_start and only slides
	// train end forward, so the training window grows each step.
	Anchored
)

// Config configures one walk-forward run.
type Config struct {
	FullStart time.Time
	FullEnd   time.Time
	TrainDays int
	TestDays  int
	StepDays  int
	Mode      Mode

	BaseConfig types.BacktestConfig
	Space      optimizer.ParamSpace
	Constraint optimizer.Constraint
	Factory    optimizer.StrategyFactory
	Metric     optimizer.MetricFunc
	Direction  optimizer.Direction

	// OptimizerWorkers bounds each window's optimizer pool; zero uses the
	// optimizer package's own default.
	OptimizerWorkers int
}

// Window is one slide of the walk: the training range the optimizer swept,
// the chosen parameters, and the out-of-sample test that followed.
type Window struct {
	Index        int
	TrainStart   time.Time
	TrainEnd     time.Time
	TestStart    time.Time
	TestEnd      time.Time
	ChosenParams optimizer.ParamSet
	TrainMetric  float64
	TestResult   *types.BacktestResult
	TestMetric   float64
}

// Result is the aggregate walk-forward outcome.
type Result struct {
	Windows          []Window
	OverfittingRatio float64
}

// Tester runs walk-forward evaluations against a shared engine.
type Tester struct {
	logger *zap.Logger
	engine *backtest.Engine
}

// New constructs a Tester that dispatches both the per-window optimizer
// sweeps and the per-window out-of-sample backtests through engine.
func New(logger *zap.Logger, engine *backtest.Engine) *Tester {
	return &Tester{logger: logger, engine: engine}
}

// Run slides the configured train/test window across
// [FullStart, FullEnd], optimizing on each training slice and testing
// the winner out-of-sample on the adjacent testing slice, stopping once
// the next test window would run past FullEnd.
func (t *Tester) Run(ctx context.Context, cfg Config) (*Result, error) {
	windows := generateWindows(cfg)
	if len(windows) == 0 {
		return nil, errors.New(errors.InvalidConfig, "walk-forward window parameters produce no windows")
	}

	t.logger.Info("starting walk-forward test",
		zap.Int("windows", len(windows)),
		zap.Int("trainDays", cfg.TrainDays),
		zap.Int("testDays", cfg.TestDays),
		zap.Int("stepDays", cfg.StepDays),
	)

	opt := optimizer.New(t.logger, t.engine)

	var sumTrain, sumTest float64
	var counted int

	for i := range windows {
		select {
		case <-ctx.Done():
			return &Result{Windows: windows[:i], OverfittingRatio: ratio(sumTrain, sumTest, counted)}, errors.Wrap(errors.Cancelled, "walk-forward test cancelled", ctx.Err())
		default:
		}

		w := &windows[i]

		trainCfg := cfg.BaseConfig
		trainCfg.Start = w.TrainStart
		trainCfg.End = w.TrainEnd

		sweep, err := opt.Run(ctx, optimizer.Config{
			BaseConfig: trainCfg,
			Space:      cfg.Space,
			Constraint: cfg.Constraint,
			Factory:    cfg.Factory,
			Metric:     cfg.Metric,
			Direction:  cfg.Direction,
			Workers:    cfg.OptimizerWorkers,
		})
		if err != nil {
			t.logger.Warn("window training sweep failed", zap.Int("window", w.Index), zap.Error(err))
			continue
		}
		if len(sweep) == 0 || sweep[0].Failed {
			t.logger.Warn("window training sweep produced no viable parameters", zap.Int("window", w.Index))
			continue
		}

		best := sweep[0]
		w.ChosenParams = best.Params
		w.TrainMetric = best.Score

		testCfg := cfg.BaseConfig
		testCfg.Start = w.TestStart
		testCfg.End = w.TestEnd
		testCfg.StrategyParams = toAnyMap(best.Params)

		strat := cfg.Factory(best.Params)
		testResult, err := t.engine.Run(ctx, testCfg, strat)
		if err != nil {
			t.logger.Warn("window test backtest failed", zap.Int("window", w.Index), zap.Error(err))
			continue
		}

		w.TestResult = testResult
		w.TestMetric = cfg.Metric(testResult.Metrics)

		t.logger.Debug("walk-forward window complete",
			zap.Int("window", w.Index),
			zap.Float64("trainMetric", w.TrainMetric),
			zap.Float64("testMetric", w.TestMetric),
		)

		sumTrain += w.TrainMetric
		sumTest += w.TestMetric
		counted++
	}

	return &Result{Windows: windows, OverfittingRatio: ratio(sumTrain, sumTest, counted)}, nil
}

// ratio computes mean(train_metric) / mean(test_metric) across the windows
// that produced both a trained and a tested metric. Zero counted windows or
// a zero test mean both yield 0 rather than dividing by zero.
func ratio(sumTrain, sumTest float64, counted int) float64 {
	if counted == 0 {
		return 0
	}
	meanTrain := sumTrain / float64(counted)
	meanTest := sumTest / float64(counted)
	if meanTest == 0 {
		return 0
	}
	return meanTrain / meanTest
}

func toAnyMap(p optimizer.ParamSet) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// generateWindows derives the walk's windows: for window index k,
// train_start = anchored ? full_start : full_start + k*step; train_end
// = train_start + train_days (anchored mode advances it by k*step so
// the window grows); test_start = train_end; test_end = test_start +
// test_days. Stops once test_end > full_end.
func generateWindows(cfg Config) []Window {
	trainDuration := time.Duration(cfg.TrainDays) * 24 * time.Hour
	testDuration := time.Duration(cfg.TestDays) * 24 * time.Hour
	stepDuration := time.Duration(cfg.StepDays) * 24 * time.Hour

	var windows []Window
	for k := 0; ; k++ {
		var trainStart time.Time
		if cfg.Mode == Anchored {
			trainStart = cfg.FullStart
		} else {
			trainStart = cfg.FullStart.Add(time.Duration(k) * stepDuration)
		}

		trainEnd := trainStart.Add(trainDuration)
		if cfg.Mode == Anchored {
			trainEnd = cfg.FullStart.Add(trainDuration).Add(time.Duration(k) * stepDuration)
		}

		testStart := trainEnd
		testEnd := testStart.Add(testDuration)

		if testEnd.After(cfg.FullEnd) {
			break
		}

		windows = append(windows, Window{
			Index:      k,
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  testStart,
			TestEnd:    testEnd,
		})
	}
	return windows
}
