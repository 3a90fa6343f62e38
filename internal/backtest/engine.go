// Package backtest implements the bar-by-bar simulation engine that
// drives one deterministic run: it pulls bars through the historical
// data cache, translates strategy signals into positions, advances the
// position manager one bar at a time and tracks equity and drawdown.
//
// The per-bar loop is strictly sequential. Within a bar, position
// updates run in id order, closures before partials before break-even
// before trailing, and new-signal openings last; this ordering is what
// makes replays of the same inputs bit-identical.
package backtest

import (
	"context"
	"time"

	"github.com/atlas-desktop/backtestlab/internal/cache"
	"github.com/atlas-desktop/backtestlab/internal/metrics"
	"github.com/atlas-desktop/backtestlab/internal/position"
	"github.com/atlas-desktop/backtestlab/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DataCache is the subset of internal/cache.Cache the engine depends on.
type DataCache interface {
	Get(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time, opts cache.GetOptions) ([]types.Bar, error)
}

// SlippageModel adjusts an entry price for execution slippage.
type SlippageModel interface {
	Apply(direction types.Direction, price decimal.Decimal) decimal.Decimal
}

// FixedSlippage applies a constant per-side slippage offset expressed in
// price units (already scaled by pip size by the caller).
type FixedSlippage struct {
	Offset decimal.Decimal
}

func (f FixedSlippage) Apply(direction types.Direction, price decimal.Decimal) decimal.Decimal {
	if direction == types.DirectionBuy {
		return price.Add(f.Offset)
	}
	return price.Sub(f.Offset)
}

// Strategy is the contract the engine consumes: a declared look-back and
// a pure signal function over a bar window.
type Strategy interface {
	WarmupBars() int
	GenerateSignals(window []types.Bar) []types.Signal
}

// Sizer optionally overrides the engine's default risk-based position
// sizing. Strategies that also implement Sizer have their PositionSize
// consulted for every accepted signal.
type Sizer interface {
	PositionSize(balance, riskPct, entry, sl decimal.Decimal, symbol string) decimal.Decimal
}

// ProgressFunc receives (processed, total) at each bar.
type ProgressFunc func(processed, total int)

const minWarmupBars = 50
const maxLookback = 200

// Engine drives a single deterministic backtest run.
type Engine struct {
	logger   *zap.Logger
	cache    DataCache
	slippage SlippageModel
	progress ProgressFunc
}

// NewEngine constructs an Engine over the given cache and slippage
// model.
func NewEngine(logger *zap.Logger, cache DataCache, slippage SlippageModel) *Engine {
	return &Engine{logger: logger, cache: cache, slippage: slippage}
}

// SetProgress installs an optional progress callback.
func (e *Engine) SetProgress(fn ProgressFunc) { e.progress = fn }

// Run executes config against strategy, pulling bars through the cache.
func (e *Engine) Run(ctx context.Context, config types.BacktestConfig, strategy Strategy) (*types.BacktestResult, error) {
	bars, err := e.cache.Get(ctx, config.Symbol, config.Timeframe, config.Start, config.End, cache.GetOptions{UseCache: true, UpdateCache: true, UseSynthetic: true})
	if err != nil {
		return nil, err
	}

	calc := metrics.NewCalculator()

	if len(bars) == 0 {
		equityCurve := []decimal.Decimal{config.InitialBalance}
		drawdowns := []decimal.Decimal{decimal.Zero}
		return &types.BacktestResult{
			Config:       config,
			EquityCurve:  equityCurve,
			Timestamps:   []time.Time{config.Start},
			FinalBalance: config.InitialBalance,
			Drawdowns:    drawdowns,
			Metrics:      calc.Calculate(nil, equityCurve, drawdowns, config.InitialBalance),
		}, nil
	}

	pipSize := types.PipSize(config.Symbol)
	pipValue := config.PipValue
	if pipValue.IsZero() {
		pipValue = decimal.NewFromInt(1)
	}

	pm := position.NewManager(pipValue, pipSize)

	var sizer Sizer
	if s, ok := strategy.(Sizer); ok {
		sizer = s
	}

	balance := config.InitialBalance
	equityCurve := []decimal.Decimal{config.InitialBalance}
	timestamps := []time.Time{config.Start}
	maxEquity := config.InitialBalance
	drawdowns := []decimal.Decimal{decimal.Zero}

	warmup := minWarmupBars
	if strategy != nil {
		if w := strategy.WarmupBars(); w > warmup {
			warmup = w
		}
	}

	incomplete := false

	for i := 1; i < len(bars); i++ {
		select {
		case <-ctx.Done():
			incomplete = true
			i = len(bars)
			continue
		default:
		}

		bar := bars[i]
		t := bar.Time

		prices := map[string]position.PriceUpdate{
			config.Symbol: {Close: bar.Close, High: bar.High, Low: bar.Low},
		}

		report := pm.Update(prices, t)
		for _, ev := range report.Closures {
			balance = balance.Add(ev.RealizedPnL)
			balance = balance.Sub(config.Commission.Mul(ev.Volume))
		}

		if i >= warmup && strategy != nil {
			start := i + 1 - maxLookback
			if start < 0 {
				start = 0
			}
			window := bars[start : i+1]
			signals := e.safeSignals(strategy, window)

			for _, sig := range signals {
				if !sig.Time.Equal(t) {
					continue
				}
				if sig.Symbol == "" {
					sig.Symbol = config.Symbol
				}
				if !sig.Valid() {
					e.logger.Warn("skipping invalid signal", zap.String("symbol", sig.Symbol))
					continue
				}
				opened := e.openFromSignal(pm, config, sig, bar, balance, pipValue, pipSize, sizer)
				balance = balance.Sub(config.Commission.Mul(opened))
			}
		}

		equity := balance.Add(pm.FloatingProfit(prices))
		equityCurve = append(equityCurve, equity)
		timestamps = append(timestamps, t)
		if equity.GreaterThan(maxEquity) {
			maxEquity = equity
		}
		var dd decimal.Decimal
		if maxEquity.GreaterThan(decimal.Zero) {
			dd = maxEquity.Sub(equity).Div(maxEquity)
		}
		drawdowns = append(drawdowns, dd)

		if e.progress != nil {
			e.progress(i, len(bars))
		}
	}

	lastBar := bars[len(bars)-1]
	for _, pos := range pm.Active() {
		trade, err := pm.Close(pos.ID, lastBar.Close, lastBar.Time, types.CloseReasonEndOfTest)
		if err != nil {
			continue
		}
		// ProfitCurrency includes partial-closure P&L that was already
		// booked when those events fired; only the final leg moves the
		// balance here.
		realized := trade.ProfitCurrency
		for _, pc := range trade.PartialClosures {
			realized = realized.Sub(pc.RealizedPnL)
		}
		balance = balance.Add(realized)
		balance = balance.Sub(config.Commission.Mul(trade.Volume))
	}

	trades := pm.Closed()
	result := &types.BacktestResult{
		Config:       config,
		Trades:       trades,
		EquityCurve:  equityCurve,
		Timestamps:   timestamps,
		FinalBalance: balance,
		Drawdowns:    drawdowns,
		Incomplete:   incomplete,
		Metrics:      calc.Calculate(trades, equityCurve, drawdowns, config.InitialBalance),
	}
	return result, nil
}

// safeSignals calls strategy.GenerateSignals, converting a panic into an
// empty signal set so one misbehaving strategy bar never aborts the run.
func (e *Engine) safeSignals(strategy Strategy, window []types.Bar) (signals []types.Signal) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("strategy panicked, treating as no signals", zap.Any("panic", r))
			signals = nil
		}
	}()
	return strategy.GenerateSignals(window)
}

// openFromSignal computes the entry price (spread+slippage-adjusted) and
// position volume, then opens a position via pm. Returns the volume
// actually opened (zero when the open was rejected).
func (e *Engine) openFromSignal(pm *position.Manager, config types.BacktestConfig, sig types.Signal, bar types.Bar, balance, pipValue, pipSize decimal.Decimal, sizer Sizer) decimal.Decimal {
	entry := bar.Close
	if config.SpreadUsage && sig.Direction == types.DirectionBuy {
		spread := decimal.NewFromInt(int64(bar.Spread)).Mul(pipSize)
		entry = entry.Add(spread)
	}
	if e.slippage != nil {
		entry = e.slippage.Apply(sig.Direction, entry)
	}

	var volume decimal.Decimal
	if sizer != nil {
		volume = sizer.PositionSize(balance, config.PositionSizePct, entry, sig.StopLoss, sig.Symbol)
	} else {
		riskAmount := balance.Mul(config.PositionSizePct).Div(decimal.NewFromInt(100))
		riskPerUnit := entry.Sub(sig.StopLoss).Abs().Mul(pipValue)
		if riskPerUnit.GreaterThan(decimal.Zero) {
			volume = riskAmount.Div(riskPerUnit)
		}
	}

	pos, err := pm.Open(sig.Symbol, sig.Direction, volume, entry, sig.StopLoss, sig.TakeProfit, sig.Time, config.MinVolume, config.MaxVolume, config.Trailing, config.Breakeven, config.PartialLevels)
	if err != nil {
		e.logger.Debug("signal rejected", zap.Error(err))
		return decimal.Zero
	}
	return pos.Volume
}
