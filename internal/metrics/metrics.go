// Package metrics reduces a completed backtest to a scalar report:
// trade counts, win rates split by direction, profit factor,
// reward/risk ratio, drawdown aggregates, an annualized Sharpe ratio
// and average trade duration.
package metrics

import (
	"math"

	"github.com/atlas-desktop/backtestlab/pkg/types"
	"github.com/shopspring/decimal"
)

// Inf is the sentinel a ratio takes when its denominator is zero but the
// numerator is positive (e.g. profit factor with wins and no losses).
// decimal cannot represent IEEE infinity, so the sentinel is a value
// large enough that Float64 overflows to +Inf.
var Inf = decimal.New(1, 400)

// Calculator computes Metrics from a run's trades, equity curve and
// initial balance.
type Calculator struct{}

// NewCalculator constructs a Calculator. It carries no state.
func NewCalculator() *Calculator { return &Calculator{} }

// Calculate reduces trades/equityCurve/drawdowns to a Metrics report.
// All divisions are finite-safe: zero denominators yield 0, except
// profit_factor, which yields +Inf when there are wins and no losses.
func (c *Calculator) Calculate(trades []types.TradeRecord, equityCurve []decimal.Decimal, drawdowns []decimal.Decimal, initialBalance decimal.Decimal) types.Metrics {
	var m types.Metrics
	m.TotalTrades = len(trades)

	var sumWins, sumLosses decimal.Decimal
	var largestWin, largestLoss decimal.Decimal
	var buyWins, sellWins int
	var durationHoursSum decimal.Decimal

	for _, t := range trades {
		profit := t.ProfitCurrency
		if t.Direction == types.DirectionBuy {
			m.BuyTrades++
		} else {
			m.SellTrades++
		}

		if profit.GreaterThan(decimal.Zero) {
			m.WinningTrades++
			sumWins = sumWins.Add(profit)
			if profit.GreaterThan(largestWin) {
				largestWin = profit
			}
			if t.Direction == types.DirectionBuy {
				buyWins++
			} else {
				sellWins++
			}
		} else {
			m.LosingTrades++
			sumLosses = sumLosses.Add(profit)
			if profit.LessThan(largestLoss) {
				largestLoss = profit
			}
		}

		durationHoursSum = durationHoursSum.Add(decimal.NewFromFloat(t.CloseTime.Sub(t.OpenTime).Hours()))
	}

	m.LargestWin = largestWin
	m.LargestLoss = largestLoss

	netProfit := decimal.Zero
	if len(equityCurve) > 0 {
		netProfit = equityCurve[len(equityCurve)-1].Sub(initialBalance)
	}
	m.NetProfit = netProfit
	if initialBalance.GreaterThan(decimal.Zero) {
		m.NetProfitPercent = netProfit.Div(initialBalance).Mul(decimal.NewFromInt(100))
	}

	if m.TotalTrades > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).Div(decimal.NewFromInt(int64(m.TotalTrades))).Mul(decimal.NewFromInt(100))
		m.AvgTradeDurationHours = durationHoursSum.Div(decimal.NewFromInt(int64(m.TotalTrades)))
	}
	if m.BuyTrades > 0 {
		m.BuyWinRate = decimal.NewFromInt(int64(buyWins)).Div(decimal.NewFromInt(int64(m.BuyTrades))).Mul(decimal.NewFromInt(100))
	}
	if m.SellTrades > 0 {
		m.SellWinRate = decimal.NewFromInt(int64(sellWins)).Div(decimal.NewFromInt(int64(m.SellTrades))).Mul(decimal.NewFromInt(100))
	}
	if m.WinningTrades > 0 {
		m.AvgProfit = sumWins.Div(decimal.NewFromInt(int64(m.WinningTrades)))
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = sumLosses.Div(decimal.NewFromInt(int64(m.LosingTrades)))
	}

	switch {
	case sumLosses.IsZero() && sumWins.GreaterThan(decimal.Zero):
		m.ProfitFactor = Inf
	case sumLosses.IsZero():
		m.ProfitFactor = decimal.Zero
	default:
		m.ProfitFactor = sumWins.Div(sumLosses.Abs())
	}

	if !m.AvgLoss.IsZero() {
		m.RewardRiskRatio = m.AvgProfit.Div(m.AvgLoss.Abs())
	}

	if m.TotalTrades > 0 {
		winFrac := m.WinRate.Div(decimal.NewFromInt(100))
		lossFrac := decimal.NewFromInt(1).Sub(winFrac)
		m.ExpectedValue = winFrac.Mul(m.AvgProfit).Add(lossFrac.Mul(m.AvgLoss))
	}

	if len(drawdowns) > 0 {
		maxDD := decimal.Zero
		sumDD := decimal.Zero
		for _, dd := range drawdowns {
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
			sumDD = sumDD.Add(dd)
		}
		m.MaxDrawdown = maxDD.Mul(decimal.NewFromInt(100))
		m.AvgDrawdown = sumDD.Div(decimal.NewFromInt(int64(len(drawdowns)))).Mul(decimal.NewFromInt(100))
	}

	m.SharpeRatio = sharpeRatio(equityCurve)

	return m
}

// sharpeRatio computes mean(r)/stdev(r)*sqrt(252) on per-bar returns
// r[i] = (eq[i]-eq[i-1])/eq[i-1]; 0 if stdev is 0 or fewer than 2 points.
func sharpeRatio(equityCurve []decimal.Decimal) decimal.Decimal {
	if len(equityCurve) < 3 {
		return decimal.Zero
	}
	returns := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		prev, _ := equityCurve[i-1].Float64()
		cur, _ := equityCurve[i].Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	if len(returns) < 2 {
		return decimal.Zero
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	stdev := math.Sqrt(variance)
	if stdev == 0 {
		return decimal.Zero
	}

	return decimal.NewFromFloat(mean / stdev * math.Sqrt(252))
}
