package cache

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/atlas-desktop/backtestlab/pkg/types"
	"github.com/shopspring/decimal"
)

// startingPrice anchors the synthetic walk for a handful of well-known
// symbols; anything else defaults to 100.
func startingPrice(symbol string) float64 {
	switch symbol {
	case "SOL/USDT":
		return 100.0
	case "ETH/USDT":
		return 2000.0
	case "BTC/USDT":
		return 40000.0
	default:
		return 100.0
	}
}

func interval(timeframe types.Timeframe) time.Duration {
	switch timeframe {
	case types.TimeframeM1:
		return time.Minute
	case types.TimeframeM5:
		return 5 * time.Minute
	case types.TimeframeM15:
		return 15 * time.Minute
	case types.TimeframeM30:
		return 30 * time.Minute
	case types.TimeframeH1:
		return time.Hour
	case types.TimeframeH4:
		return 4 * time.Hour
	case types.TimeframeD1:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// synthetic generates a deterministic random-walk bar series, seeded by
// the (symbol, timeframe, start, end) tuple so repeated requests for the
// same range reproduce the same series.
func (c *Cache) synthetic(symbol string, timeframe types.Timeframe, start, end time.Time) []types.Bar {
	seed := seedFor(symbol, timeframe, start, end)
	rng := rand.New(rand.NewSource(seed))

	step := interval(timeframe)
	price := startingPrice(symbol)

	var bars []types.Bar
	for t := start; t.Before(end) || t.Equal(end); t = t.Add(step) {
		change := (rng.Float64() - 0.5) * 0.02 * price
		open := price
		price += change
		closeP := price

		high := maxF(open, closeP) * (1 + rng.Float64()*0.005)
		low := minF(open, closeP) * (1 - rng.Float64()*0.005)
		volume := uint64(rng.Float64() * 1_000_000)

		bars = append(bars, types.Bar{
			Time:   t,
			Open:   decimal.NewFromFloat(open),
			High:   decimal.NewFromFloat(high),
			Low:    decimal.NewFromFloat(low),
			Close:  decimal.NewFromFloat(closeP),
			Volume: volume,
		})
	}
	return bars
}

func seedFor(symbol string, timeframe types.Timeframe, start, end time.Time) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d|%d", symbol, timeframe, start.UnixNano(), end.UnixNano())
	return int64(h.Sum64())
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
