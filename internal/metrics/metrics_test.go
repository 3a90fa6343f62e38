package metrics_test

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/backtestlab/internal/metrics"
	"github.com/atlas-desktop/backtestlab/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func trade(direction types.Direction, profit string, hours int) types.TradeRecord {
	open := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return types.TradeRecord{
		Direction:      direction,
		ProfitCurrency: d(profit),
		OpenTime:       open,
		CloseTime:      open.Add(time.Duration(hours) * time.Hour),
	}
}

// All-winning trade sets have no losses, so profit_factor is +Inf rather
// than a division-by-zero or a silently clamped value.
func TestCalculate_ProfitFactorInfOnNoLosses(t *testing.T) {
	calc := metrics.NewCalculator()
	trades := []types.TradeRecord{
		trade(types.DirectionBuy, "100", 1),
		trade(types.DirectionBuy, "50", 2),
	}
	equity := []decimal.Decimal{d("10000"), d("10150")}
	m := calc.Calculate(trades, equity, []decimal.Decimal{decimal.Zero, decimal.Zero}, d("10000"))

	pf, _ := m.ProfitFactor.Float64()
	if !math.IsInf(pf, 1) {
		t.Fatalf("profit factor = %s, want +Inf", m.ProfitFactor)
	}
	if m.LosingTrades != 0 {
		t.Fatalf("expected 0 losing trades, got %d", m.LosingTrades)
	}
}

// With no trades at all, profit_factor and win rate are 0, not NaN/Inf.
func TestCalculate_NoTradesYieldsZeroedMetrics(t *testing.T) {
	calc := metrics.NewCalculator()
	m := calc.Calculate(nil, []decimal.Decimal{d("10000")}, []decimal.Decimal{decimal.Zero}, d("10000"))

	if !m.ProfitFactor.Equal(decimal.Zero) {
		t.Fatalf("profit factor = %s, want 0", m.ProfitFactor)
	}
	if !m.WinRate.Equal(decimal.Zero) {
		t.Fatalf("win rate = %s, want 0", m.WinRate)
	}
	if m.TotalTrades != 0 {
		t.Fatalf("total trades = %d, want 0", m.TotalTrades)
	}
}

// Buy and sell win rates are tracked independently of the overall win rate.
func TestCalculate_BuySellWinRateSplit(t *testing.T) {
	calc := metrics.NewCalculator()
	trades := []types.TradeRecord{
		trade(types.DirectionBuy, "100", 1),
		trade(types.DirectionBuy, "-50", 1),
		trade(types.DirectionSell, "75", 1),
		trade(types.DirectionSell, "75", 1),
	}
	equity := []decimal.Decimal{d("10000"), d("10200")}
	m := calc.Calculate(trades, equity, []decimal.Decimal{decimal.Zero}, d("10000"))

	if !m.BuyWinRate.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("buy win rate = %s, want 50", m.BuyWinRate)
	}
	if !m.SellWinRate.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("sell win rate = %s, want 100", m.SellWinRate)
	}
	if m.BuyTrades != 2 || m.SellTrades != 2 {
		t.Fatalf("trade split wrong: buy=%d sell=%d", m.BuyTrades, m.SellTrades)
	}
}

// Max drawdown reports the largest observed drawdown, as a percentage.
func TestCalculate_MaxDrawdownPercent(t *testing.T) {
	calc := metrics.NewCalculator()
	drawdowns := []decimal.Decimal{decimal.Zero, d("0.05"), d("0.12"), d("0.03")}
	m := calc.Calculate(nil, []decimal.Decimal{d("10000")}, drawdowns, d("10000"))

	if !m.MaxDrawdown.Equal(d("12")) {
		t.Fatalf("max drawdown = %s, want 12", m.MaxDrawdown)
	}
}
