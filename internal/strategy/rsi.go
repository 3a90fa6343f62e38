package strategy

import (
	"github.com/atlas-desktop/backtestlab/pkg/types"
	"github.com/cinar/indicator/v2/momentum"
)

// computeRSI runs cinar/indicator/v2's streaming RSI reduction over
// values and returns the full output series.
func computeRSI(values []float64, period int) []float64 {
	in := make(chan float64, len(values))
	for _, v := range values {
		in <- v
	}
	close(in)

	out := momentum.NewRsiWithPeriod[float64](period).Compute(in)

	var result []float64
	for v := range out {
		result = append(result, v)
	}
	return result
}

// generateRSI emits a Buy when RSI crosses up out of the oversold zone
// and a Sell when it crosses down out of the overbought zone.
func (s *Strategy) generateRSI(window []types.Bar) []types.Signal {
	if len(window) < s.params.RSIPeriod+2 {
		return nil
	}
	c := closes(window)
	rsi := computeRSI(c, s.params.RSIPeriod)
	if len(rsi) < 2 {
		return nil
	}
	last := window[len(window)-1]
	current := rsi[len(rsi)-1]
	prev := rsi[len(rsi)-2]

	oversold, _ := s.params.Oversold.Float64()
	overbought, _ := s.params.Overbought.Float64()

	var sig []types.Signal
	if prev <= oversold && current > oversold {
		sig = append(sig, s.bracket(last, types.DirectionBuy))
	} else if prev >= overbought && current < overbought {
		sig = append(sig, s.bracket(last, types.DirectionSell))
	}
	return sig
}
