package strategy

import (
	"github.com/atlas-desktop/backtestlab/pkg/types"
	"github.com/cinar/indicator/v2/volatility"
)

type bbPoint struct {
	lower, middle, upper float64
}

// computeBollinger runs cinar/indicator/v2's streaming Bollinger Bands
// reduction over values. The library fixes the band width at 2 standard
// deviations internally; BBStdDev is accepted in Params for
// optimizer-surface symmetry with the other variants but does not
// change the band computation.
func computeBollinger(values []float64, period int) []bbPoint {
	in := make(chan float64, len(values))
	for _, v := range values {
		in <- v
	}
	close(in)

	lowerCh, middleCh, upperCh := volatility.NewBollingerBandsWithPeriod[float64](period).Compute(in)

	var out []bbPoint
	for {
		l, lok := <-lowerCh
		m, mok := <-middleCh
		u, uok := <-upperCh
		if !lok || !mok || !uok {
			break
		}
		out = append(out, bbPoint{lower: l, middle: m, upper: u})
	}
	return out
}

// generateBollinger emits a Buy when price closes at/below the lower
// band (oversold) and a Sell when it closes at/above the upper band.
func (s *Strategy) generateBollinger(window []types.Bar) []types.Signal {
	if len(window) < s.params.BBPeriod+1 {
		return nil
	}
	c := closes(window)
	bands := computeBollinger(c, s.params.BBPeriod)
	if len(bands) == 0 {
		return nil
	}
	last := window[len(window)-1]
	point := bands[len(bands)-1]
	price := c[len(c)-1]

	var sig []types.Signal
	if price <= point.lower {
		sig = append(sig, s.bracket(last, types.DirectionBuy))
	} else if price >= point.upper {
		sig = append(sig, s.bracket(last, types.DirectionSell))
	}
	return sig
}
