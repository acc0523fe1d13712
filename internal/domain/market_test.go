package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpread_QuantizedToQuoteTick(t *testing.T) {
	// 0.44 - 0.40 is 0.03999... in raw float64; the quantized spread must
	// sit exactly on the 0.04 breakpoint.
	m := MarketSnapshot{BestBid: 0.40, BestAsk: 0.44}
	assert.Equal(t, 0.04, m.Spread())

	m = MarketSnapshot{BestBid: 0.25, BestAsk: 0.31}
	assert.Equal(t, 0.06, m.Spread())

	m = MarketSnapshot{BestBid: 0.4999, BestAsk: 0.5001}
	assert.Equal(t, 0.0002, m.Spread())
}

func TestMidPrice(t *testing.T) {
	m := MarketSnapshot{BestBid: 0.40, BestAsk: 0.44}
	assert.InDelta(t, 0.42, m.MidPrice(), 1e-9)
}

func TestDaysToResolution(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m := MarketSnapshot{ResolvesAt: now.Add(65 * 24 * time.Hour)}
	assert.InDelta(t, 65, m.DaysToResolution(now), 1e-9)

	past := MarketSnapshot{ResolvesAt: now.Add(-24 * time.Hour)}
	assert.Less(t, past.DaysToResolution(now), 0.0)
}
