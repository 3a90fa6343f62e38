package cache

import (
	"sort"

	"github.com/atlas-desktop/backtestlab/pkg/types"
	"github.com/shopspring/decimal"
)

// Validate cleans a raw bar slice: missing OHLC fields are synthesized
// from the mean of the present OHLC fields, OHLC gaps are linearly
// interpolated, volume gaps fill with 0, duplicates on time are removed
// (keep first), and the result is sorted ascending. Bad bars are
// repaired rather than dropped so the served series keeps its cadence.
func Validate(bars []types.Bar) []types.Bar {
	if len(bars) == 0 {
		return bars
	}

	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	deduped := make([]types.Bar, 0, len(sorted))
	seen := map[int64]bool{}
	for _, b := range sorted {
		key := b.Time.UnixNano()
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, synthesizeMissing(b))
	}

	return interpolateGaps(deduped)
}

// synthesizeMissing fills any zero-valued OHLC field with the mean of
// the present OHLC fields on the same bar.
func synthesizeMissing(b types.Bar) types.Bar {
	fields := []decimal.Decimal{b.Open, b.High, b.Low, b.Close}
	var sum decimal.Decimal
	present := 0
	for _, f := range fields {
		if !f.IsZero() {
			sum = sum.Add(f)
			present++
		}
	}
	if present == 0 || present == 4 {
		return b
	}
	mean := sum.Div(decimal.NewFromInt(int64(present)))
	if b.Open.IsZero() {
		b.Open = mean
	}
	if b.High.IsZero() {
		b.High = mean
	}
	if b.Low.IsZero() {
		b.Low = mean
	}
	if b.Close.IsZero() {
		b.Close = mean
	}
	if b.High.LessThan(decimal.Max(b.Open, b.Close)) {
		b.High = decimal.Max(b.Open, b.Close)
	}
	if b.Low.GreaterThan(decimal.Min(b.Open, b.Close)) {
		b.Low = decimal.Min(b.Open, b.Close)
	}
	return b
}

// interpolateGaps linearly interpolates the OHLC prices of bars whose
// Close is zero across runs of such bars, between the bracketing known
// bars. Each interpolated bar keeps its own timestamp; missing
// timestamps are not reconstructed. Bars whose Close is already
// non-zero pass through unchanged.
func interpolateGaps(bars []types.Bar) []types.Bar {
	if len(bars) < 2 {
		return bars
	}

	out := make([]types.Bar, 0, len(bars))
	i := 0
	for i < len(bars) {
		if !bars[i].Close.IsZero() || i == len(bars)-1 {
			out = append(out, bars[i])
			i++
			continue
		}

		start := i - 1
		if start < 0 {
			out = append(out, bars[i])
			i++
			continue
		}
		j := i
		for j < len(bars) && bars[j].Close.IsZero() {
			j++
		}
		if j >= len(bars) {
			out = append(out, bars[i:]...)
			break
		}

		before := out[len(out)-1]
		after := bars[j]
		steps := j - start
		for k := i; k < j; k++ {
			frac := decimal.NewFromInt(int64(k - start)).Div(decimal.NewFromInt(int64(steps)))
			interp := lerpBar(before, after, frac)
			interp.Time = bars[k].Time
			if bars[k].Volume == 0 {
				interp.Volume = 0
			} else {
				interp.Volume = bars[k].Volume
			}
			out = append(out, interp)
		}
		i = j
	}
	return out
}

func lerpBar(a, b types.Bar, frac decimal.Decimal) types.Bar {
	lerp := func(x, y decimal.Decimal) decimal.Decimal {
		return x.Add(y.Sub(x).Mul(frac))
	}
	return types.Bar{
		Open:  lerp(a.Open, b.Open),
		High:  lerp(a.High, b.High),
		Low:   lerp(a.Low, b.Low),
		Close: lerp(a.Close, b.Close),
	}
}
