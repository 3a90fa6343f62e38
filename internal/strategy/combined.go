package strategy

import (
	"github.com/atlas-desktop/backtestlab/pkg/types"
	"github.com/shopspring/decimal"
)

// generateCombined is a weighted vote over the SMA/RSI/Bollinger/MACD
// sub-signals: each contributes +1 (Buy), -1 (Sell) or 0 (no opinion)
// scaled by its configured weight; a Buy/Sell signal fires only when the
// combined score crosses the configured VoteThreshold in that direction.
func (s *Strategy) generateCombined(window []types.Bar) []types.Signal {
	votes := map[types.Direction]decimal.Decimal{}

	add := func(sigs []types.Signal, weight decimal.Decimal) {
		for _, sig := range sigs {
			votes[sig.Direction] = votes[sig.Direction].Add(weight)
		}
	}

	add(s.generateSMA(window), s.params.WeightSMA)
	add(s.generateRSI(window), s.params.WeightRSI)
	add(s.generateBollinger(window), s.params.WeightBB)
	add(s.generateMACD(window), s.params.WeightMACD)

	buyScore := votes[types.DirectionBuy]
	sellScore := votes[types.DirectionSell]

	last := window[len(window)-1]
	var out []types.Signal
	switch {
	case buyScore.GreaterThanOrEqual(s.params.VoteThreshold) && buyScore.GreaterThan(sellScore):
		out = append(out, s.bracket(last, types.DirectionBuy))
	case sellScore.GreaterThanOrEqual(s.params.VoteThreshold) && sellScore.GreaterThan(buyScore):
		out = append(out, s.bracket(last, types.DirectionSell))
	}
	return out
}
