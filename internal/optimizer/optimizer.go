// Package optimizer evaluates a strategy parameter space: Cartesian
// product enumeration, optional constraint filtering and random
// subsampling, dispatch of one backtest per surviving combination
// through an internal/workers.Pool, and ranking of the results by a
// chosen metric.
package optimizer

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/backtestlab/internal/backtest"
	"github.com/atlas-desktop/backtestlab/internal/workers"
	"github.com/atlas-desktop/backtestlab/pkg/errors"
	"github.com/atlas-desktop/backtestlab/pkg/types"
)

// ParamValue is one candidate value for a parameter in the search space.
type ParamValue = float64

// ParamSpace maps a parameter name to its candidate values. The Cartesian
// product of all entries is the full combination set.
type ParamSpace map[string][]ParamValue

// ParamSet is one point in the parameter space, selected by name.
type ParamSet map[string]ParamValue

// Constraint filters a ParamSet before it is scheduled; returning false
// drops the combination from the sweep entirely (it is never evaluated and
// never appears in Results).
type Constraint func(ParamSet) bool

// StrategyFactory builds a concrete backtest.Strategy from one point in
// the parameter space.
type StrategyFactory func(ParamSet) backtest.Strategy

// Direction controls whether higher or lower values of the target metric
// rank better. Drawdown-like metrics should use Ascending.
type Direction int

const (
	Descending Direction = iota
	Ascending
)

// MetricFunc extracts the scalar ranking value from a completed run's
// metrics, e.g. the Sharpe ratio as a float64.
type MetricFunc func(types.Metrics) float64

// EvalResult is one combination's outcome. Failed is set when the engine
// run itself errored; Result is then nil and Score is the worst possible
// value for the configured Direction so it sorts to the bottom.
type EvalResult struct {
	Params ParamSet
	Score  float64
	Result *types.BacktestResult
	Failed bool
	Err    error
}

// Config configures one optimization sweep.
type Config struct {
	BaseConfig types.BacktestConfig
	Space      ParamSpace
	Constraint Constraint
	Factory    StrategyFactory
	Metric     MetricFunc
	Direction  Direction

	// Workers bounds pool concurrency; zero selects runtime.NumCPU().
	Workers int

	// RandomSubset, if > 0, evaluates a random sample of that size drawn
	// from the (constraint-filtered) combination set instead of the full
	// grid. Zero evaluates everything.
	RandomSubset int

	// ProgressEvery logs a completion-count/best-score line every N
	// completed evaluations. Zero disables periodic logging.
	ProgressEvery int
}

// Optimizer runs parameter sweeps against a backtest.Engine.
type Optimizer struct {
	logger *zap.Logger
	engine *backtest.Engine
}

// New constructs an Optimizer that dispatches runs through engine.
func New(logger *zap.Logger, engine *backtest.Engine) *Optimizer {
	return &Optimizer{logger: logger, engine: engine}
}

// Run enumerates cfg.Space, filters and optionally subsamples it, evaluates
// every surviving combination in parallel via an internal/workers.Pool, and
// returns results ranked best-first per cfg.Direction.
func (o *Optimizer) Run(ctx context.Context, cfg Config) ([]EvalResult, error) {
	combos := cartesianProduct(cfg.Space)
	if cfg.Constraint != nil {
		combos = filterCombos(combos, cfg.Constraint)
	}
	if cfg.RandomSubset > 0 && cfg.RandomSubset < len(combos) {
		combos = sampleCombos(combos, cfg.RandomSubset)
	}

	o.logger.Info("starting parameter sweep",
		zap.Int("combinations", len(combos)),
	)

	poolCfg := workers.DefaultPoolConfig("optimizer")
	poolCfg.NumWorkers = runtime.NumCPU()
	if cfg.Workers > 0 {
		poolCfg.NumWorkers = cfg.Workers
	}
	pool := workers.NewPool(o.logger, poolCfg)
	pool.Start()
	defer pool.Stop()

	results := make([]EvalResult, len(combos))
	var wg sync.WaitGroup
	var completed int
	var mu sync.Mutex
	worstScore := worstFor(cfg.Direction)

	for i, combo := range combos {
		select {
		case <-ctx.Done():
			wg.Wait()
			return rank(results[:i], cfg.Direction), errors.Wrap(errors.Cancelled, "optimizer sweep cancelled", ctx.Err())
		default:
		}

		wg.Add(1)
		go func(idx int, params ParamSet) {
			defer wg.Done()

			runErr := pool.SubmitWait(workers.TaskFunc(func() error {
				results[idx] = o.evaluate(ctx, cfg, params, worstScore)
				return results[idx].Err
			}))
			if runErr != nil && results[idx].Err == nil {
				results[idx] = EvalResult{Params: params, Score: worstScore, Failed: true, Err: runErr}
			}

			mu.Lock()
			completed++
			n := completed
			best := results[idx].Score
			mu.Unlock()

			if cfg.ProgressEvery > 0 && n%cfg.ProgressEvery == 0 {
				o.logger.Info("sweep progress",
					zap.Int("completed", n),
					zap.Int("total", len(combos)),
					zap.Float64("last_score", best),
				)
			}
		}(i, combo)
	}
	wg.Wait()

	stats := pool.Stats()
	o.logger.Info("parameter sweep complete",
		zap.Int("combinations", len(combos)),
		zap.Int64("tasksFailed", stats.TasksFailed),
		zap.Int64("panicsRecovered", stats.PanicRecovered),
		zap.Duration("p99Latency", stats.P99Latency),
	)

	return rank(results, cfg.Direction), nil
}

// evaluate runs a single combination's backtest. A run-time failure is
// swallowed into a zeroed, flagged EvalResult so one bad point never
// aborts the sweep.
func (o *Optimizer) evaluate(ctx context.Context, cfg Config, params ParamSet, worstScore float64) EvalResult {
	strat := cfg.Factory(params)

	runCfg := cfg.BaseConfig
	runCfg.StrategyParams = toAnyMap(params)

	res, err := o.engine.Run(ctx, runCfg, strat)
	if err != nil {
		return EvalResult{
			Params: params,
			Score:  worstScore,
			Failed: true,
			Err:    errors.Wrap(errors.OptimizerTaskError, "combination evaluation failed", err),
		}
	}

	score := cfg.Metric(res.Metrics)
	return EvalResult{Params: params, Score: score, Result: res}
}

func toAnyMap(p ParamSet) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func worstFor(dir Direction) float64 {
	if dir == Ascending {
		return math.Inf(1)
	}
	return math.Inf(-1)
}

// rank sorts a copy of results best-first: descending score for
// Direction==Descending, ascending for Direction==Ascending.
func rank(results []EvalResult, dir Direction) []EvalResult {
	out := make([]EvalResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		if dir == Ascending {
			return out[i].Score < out[j].Score
		}
		return out[i].Score > out[j].Score
	})
	return out
}

// cartesianProduct expands a ParamSpace into every combination, walking
// parameter names in sorted order for deterministic output.
func cartesianProduct(space ParamSpace) []ParamSet {
	if len(space) == 0 {
		return nil
	}
	names := make([]string, 0, len(space))
	for name := range space {
		names = append(names, name)
	}
	sort.Strings(names)

	combos := []ParamSet{{}}
	for _, name := range names {
		values := space[name]
		next := make([]ParamSet, 0, len(combos)*len(values))
		for _, base := range combos {
			for _, v := range values {
				set := make(ParamSet, len(base)+1)
				for k, bv := range base {
					set[k] = bv
				}
				set[name] = v
				next = append(next, set)
			}
		}
		combos = next
	}
	return combos
}

func filterCombos(combos []ParamSet, constraint Constraint) []ParamSet {
	out := combos[:0:0]
	for _, c := range combos {
		if constraint(c) {
			out = append(out, c)
		}
	}
	return out
}

func sampleCombos(combos []ParamSet, n int) []ParamSet {
	rng := rand.New(rand.NewSource(seed(combos)))
	shuffled := make([]ParamSet, len(combos))
	copy(shuffled, combos)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}

// seed derives a deterministic seed from the combination count and the
// first combination's contents so RandomSubset sampling is reproducible
// across repeated sweeps over the same space. Never consults the clock:
// a zero hash is as valid a seed as any other.
func seed(combos []ParamSet) int64 {
	var s int64 = int64(len(combos)) * 1099511628211
	if len(combos) > 0 {
		first := combos[0]
		names := make([]string, 0, len(first))
		for k := range first {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			for _, c := range k {
				s = s*31 + int64(c)
			}
			s = s*31 + int64(first[k]*1000)
		}
	}
	return s
}
