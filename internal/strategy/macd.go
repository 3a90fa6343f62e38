package strategy

import (
	"github.com/atlas-desktop/backtestlab/pkg/types"
	"github.com/cinar/indicator/v2/trend"
)

// computeMACD runs cinar/indicator/v2's streaming MACD reduction over
// values, returning the macd and signal series.
func computeMACD(values []float64, fast, slow, signal int) (macd, sig []float64) {
	in := make(chan float64, len(values))
	for _, v := range values {
		in <- v
	}
	close(in)

	macdCh, signalCh := trend.NewMacdWithPeriod[float64](fast, slow, signal).Compute(in)

	for {
		m, mok := <-macdCh
		sv, sok := <-signalCh
		if !mok || !sok {
			break
		}
		macd = append(macd, m)
		sig = append(sig, sv)
	}
	return macd, sig
}

// generateMACD emits a Buy on a bullish histogram crossover (MACD
// crosses above signal) and a Sell on a bearish crossover.
func (s *Strategy) generateMACD(window []types.Bar) []types.Signal {
	minRequired := s.params.SlowPeriod + s.params.SignalPeriod
	if len(window) < minRequired+1 {
		return nil
	}
	c := closes(window)
	macd, sig := computeMACD(c, s.params.FastPeriod, s.params.SlowPeriod, s.params.SignalPeriod)
	if len(macd) < 2 || len(sig) < 2 {
		return nil
	}
	last := window[len(window)-1]

	currentHist := macd[len(macd)-1] - sig[len(sig)-1]
	prevHist := macd[len(macd)-2] - sig[len(sig)-2]

	var out []types.Signal
	if prevHist <= 0 && currentHist > 0 {
		out = append(out, s.bracket(last, types.DirectionBuy))
	} else if prevHist >= 0 && currentHist < 0 {
		out = append(out, s.bracket(last, types.DirectionSell))
	}
	return out
}
