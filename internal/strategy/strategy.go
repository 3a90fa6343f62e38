// Package strategy implements the built-in strategy set: SMA crossover,
// RSI, Bollinger Bands, MACD, and a weighted-vote Combined strategy.
// RSI, Bollinger and MACD math runs through github.com/cinar/indicator/v2's
// streaming channel reductions; the SMA crossover uses a local windowed
// mean. Every variant is a pure function of its bar
// window, so a run can replay it any number of times.
package strategy

import (
	"github.com/atlas-desktop/backtestlab/pkg/types"
	"github.com/shopspring/decimal"
)

// Kind identifies which built-in strategy variant is in use.
type Kind string

const (
	KindSMA       Kind = "sma"
	KindRSI       Kind = "rsi"
	KindBollinger Kind = "bollinger"
	KindMACD      Kind = "macd"
	KindCombined  Kind = "combined"
)

// Params is the flat tunable record for any variant, kept flat so the
// optimizer's parameter space stays trivially enumerable as a Cartesian
// product.
type Params struct {
	Kind Kind

	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int

	RSIPeriod  int
	Oversold   decimal.Decimal
	Overbought decimal.Decimal

	BBPeriod int
	BBStdDev decimal.Decimal

	StopLossPips   decimal.Decimal
	TakeProfitPips decimal.Decimal
	PipSize        decimal.Decimal

	// Combined-only: per-subindicator weights and the vote threshold.
	WeightSMA, WeightRSI, WeightBB, WeightMACD decimal.Decimal
	VoteThreshold                              decimal.Decimal
}

// New constructs the Strategy for params.Kind.
func New(params Params) *Strategy {
	if params.PipSize.IsZero() {
		params.PipSize = decimal.NewFromFloat(0.0001)
	}
	return &Strategy{params: params}
}

// Strategy satisfies the backtest.Strategy contract: WarmupBars and
// GenerateSignals are pure, side-effect-free, callable many times.
type Strategy struct {
	params Params
}

// WarmupBars declares the look-back this variant needs before it can
// produce its first signal.
func (s *Strategy) WarmupBars() int {
	switch s.params.Kind {
	case KindSMA:
		return s.params.SlowPeriod
	case KindRSI:
		return s.params.RSIPeriod + 1
	case KindBollinger:
		return s.params.BBPeriod
	case KindMACD:
		return s.params.SlowPeriod + s.params.SignalPeriod
	case KindCombined:
		return maxInt(s.params.SlowPeriod+s.params.SignalPeriod, maxInt(s.params.BBPeriod, s.params.RSIPeriod+1))
	default:
		return 0
	}
}

// GenerateSignals is a pure function of window: the caller may call it
// repeatedly (e.g. once per bar, or once per optimizer trial) with no
// hidden state carried between calls.
func (s *Strategy) GenerateSignals(window []types.Bar) []types.Signal {
	switch s.params.Kind {
	case KindSMA:
		return s.generateSMA(window)
	case KindRSI:
		return s.generateRSI(window)
	case KindBollinger:
		return s.generateBollinger(window)
	case KindMACD:
		return s.generateMACD(window)
	case KindCombined:
		return s.generateCombined(window)
	default:
		return nil
	}
}

// PositionSize is intentionally not implemented: the engine's default
// risk-based sizing is used for every built-in variant.

func closes(window []types.Bar) []float64 {
	out := make([]float64, len(window))
	for i, b := range window {
		f, _ := b.Close.Float64()
		out[i] = f
	}
	return out
}

func (s *Strategy) bracket(last types.Bar, direction types.Direction) types.Signal {
	entry := last.Close
	var sl, tp decimal.Decimal
	if direction == types.DirectionBuy {
		sl = entry.Sub(s.params.StopLossPips.Mul(s.params.PipSize))
		tp = entry.Add(s.params.TakeProfitPips.Mul(s.params.PipSize))
	} else {
		sl = entry.Add(s.params.StopLossPips.Mul(s.params.PipSize))
		tp = entry.Sub(s.params.TakeProfitPips.Mul(s.params.PipSize))
	}
	return types.Signal{
		Direction:  direction,
		EntryPrice: entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Time:       last.Time,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
