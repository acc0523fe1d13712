package domain

import (
	"math"
	"time"
)

// MarketSnapshot is a read-only view of one tradable binary contract at scan
// time, as produced by the market data source. Prices are in probability
// units [0,1].
type MarketSnapshot struct {
	ID           string
	Name         string
	Category     string
	ResolvesAt   time.Time
	LiquidityUSD float64
	BestBid      float64
	BestAsk      float64
}

// Spread returns best-ask minus best-bid, quantized to the 0.0001 quote tick.
// Raw float subtraction can land a quoted spread a hair below its true value
// (0.44 - 0.40 is 0.03999...), which would put it on the wrong side of the
// fill-probability breakpoints.
func (m MarketSnapshot) Spread() float64 {
	return math.Round((m.BestAsk-m.BestBid)*10_000) / 10_000
}

// MidPrice returns the bid/ask midpoint.
func (m MarketSnapshot) MidPrice() float64 {
	return (m.BestBid + m.BestAsk) / 2
}

// DaysToResolution returns the number of days until the market resolves,
// measured from now. Negative when the market is already past resolution.
func (m MarketSnapshot) DaysToResolution(now time.Time) float64 {
	return m.ResolvesAt.Sub(now).Hours() / 24
}
