package strategy

import "github.com/atlas-desktop/backtestlab/pkg/types"

// sma computes the simple moving average of the last period closes.
func sma(values []float64, period int) float64 {
	if period <= 0 || period > len(values) {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// generateSMA emits a Buy when the fast average crosses above the slow
// average, and a Sell on the reverse cross.
func (s *Strategy) generateSMA(window []types.Bar) []types.Signal {
	if len(window) < s.params.SlowPeriod+1 {
		return nil
	}
	c := closes(window)
	last := window[len(window)-1]

	fastNow := sma(c, s.params.FastPeriod)
	slowNow := sma(c, s.params.SlowPeriod)
	fastPrev := sma(c[:len(c)-1], s.params.FastPeriod)
	slowPrev := sma(c[:len(c)-1], s.params.SlowPeriod)

	var sig []types.Signal
	if fastPrev <= slowPrev && fastNow > slowNow {
		sig = append(sig, s.bracket(last, types.DirectionBuy))
	} else if fastPrev >= slowPrev && fastNow < slowNow {
		sig = append(sig, s.bracket(last, types.DirectionSell))
	}
	return sig
}
