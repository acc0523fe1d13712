package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/flipbot/internal/domain"
)

func testParams() domain.RiskParameters {
	return domain.RiskParameters{
		Thresholds: domain.StrategyThresholds{
			MinHVSForHold:        5,
			MinFlipEV:            10,
			DailyOpportunityCost: 0.001,
		},
		Filters: domain.MarketFilters{
			MinSpread: 0.02,
			MaxSpread: 0.10,
		},
	}
}

func TestDecide_Hold(t *testing.T) {
	// entry=0.40, winProb=0.55, 10 days: hvs = 100*0.15 - 1 = 14.00.
	// Spread 0.01 keeps flipEV at 0, so HOLD wins with room to spare.
	d := Decide(testParams(), 100, 0.40, 0.55, 0.01, 10, 10_000)
	assert.Equal(t, domain.ActionHold, d.Action)
	assert.InDelta(t, 14.00, d.HVS, 0.001)
	assert.Equal(t, domain.ConfidenceMedium, d.Confidence)
}

func TestDecide_HoldHighConfidence(t *testing.T) {
	// hvs = 200*0.15 - 2 = 28 > 15.
	d := Decide(testParams(), 200, 0.40, 0.55, 0.01, 10, 10_000)
	assert.Equal(t, domain.ActionHold, d.Action)
	assert.Equal(t, domain.ConfidenceHigh, d.Confidence)
}

func TestDecide_NeverHoldBelowThreshold(t *testing.T) {
	// hvs = 100*0.02 - 1 = 1.00 < MinHVSForHold, flipEV also 0 -> SKIP.
	d := Decide(testParams(), 100, 0.40, 0.42, 0.01, 10, 10_000)
	assert.NotEqual(t, domain.ActionHold, d.Action)
	assert.Equal(t, domain.ActionSkip, d.Action)
}

func TestDecide_Flip(t *testing.T) {
	// spread=0.04, size=75, fillProb=0.70, 2 flips/week, 9 weeks: EV=37.80.
	// winProb=entry makes hvs negative, so FLIP is the only candidate.
	d := Decide(testParams(), 75, 0.43, 0.43, 0.04, 65, 30_000)
	assert.Equal(t, domain.ActionFlip, d.Action)
	assert.InDelta(t, 37.80, d.FlipEV, 0.001)
	assert.Equal(t, domain.ConfidenceMedium, d.Confidence)
}

func TestDecide_FlipHighConfidenceOnWideSpread(t *testing.T) {
	d := Decide(testParams(), 75, 0.43, 0.43, 0.06, 65, 30_000)
	assert.Equal(t, domain.ActionFlip, d.Action)
	assert.Equal(t, domain.ConfidenceHigh, d.Confidence)
}

func TestDecide_NeverFlipBelowMinSpread(t *testing.T) {
	params := testParams()
	params.Thresholds.MinFlipEV = 0
	d := Decide(params, 75, 0.43, 0.43, 0.01, 65, 80_000)
	assert.NotEqual(t, domain.ActionFlip, d.Action)
}

func TestDecide_NeverFlipTooCloseToResolution(t *testing.T) {
	d := Decide(testParams(), 75, 0.43, 0.43, 0.05, 2, 80_000)
	assert.Equal(t, domain.ActionSkip, d.Action)
}

func TestDecide_HoldWinsTiesOverFlip(t *testing.T) {
	// Both strategies qualify; HOLD is evaluated first and must win when it
	// clears the 1.3x margin.
	params := testParams()
	params.Thresholds.MinFlipEV = 1
	// size=300, entry=0.40, winProb=0.60: hvs = 300*0.20 - 300*0.001*14 = 55.80
	// spread=0.03, liq=30k: flipEV = 0.03*300*0.6*2*2 = 21.60; 55.80 > 28.08.
	d := Decide(params, 300, 0.40, 0.60, 0.03, 14, 30_000)
	assert.Equal(t, domain.ActionHold, d.Action)
}

func TestDecide_HysteresisPrefersFlipWithinMargin(t *testing.T) {
	// hvs above threshold but not 1.3x over flipEV falls through to FLIP.
	params := testParams()
	params.Thresholds.MinFlipEV = 1
	// size=100, entry=0.40, winProb=0.48: hvs = 8 - 1.4 = 6.60
	// spread=0.05, liq=60k: flipEV = 0.05*100*0.8*3*2 = 24.00; 6.60 < 31.20.
	d := Decide(params, 100, 0.40, 0.48, 0.05, 14, 60_000)
	assert.Equal(t, domain.ActionFlip, d.Action)
}

func TestDecide_SkipHasLowConfidence(t *testing.T) {
	d := Decide(testParams(), 75, 0.50, 0.50, 0.01, 5, 1_000)
	assert.Equal(t, domain.ActionSkip, d.Action)
	assert.Equal(t, domain.ConfidenceLow, d.Confidence)
	assert.NotEmpty(t, d.Reasoning)
}

func TestDecide_ExactlyOneAction(t *testing.T) {
	cases := [][6]float64{
		{100, 0.40, 0.55, 0.01, 10, 10_000},
		{75, 0.43, 0.43, 0.04, 65, 30_000},
		{75, 0.50, 0.50, 0.01, 5, 1_000},
		{100, 0.97, 0.97, 0.08, 400, 500_000},
	}
	for _, c := range cases {
		d := Decide(testParams(), c[0], c[1], c[2], c[3], c[4], c[5])
		assert.Contains(t, []domain.Action{domain.ActionHold, domain.ActionFlip, domain.ActionSkip}, d.Action)
	}
}

func TestSide_Hold(t *testing.T) {
	assert.Equal(t, domain.SideYes, Side(domain.ActionHold, 0.49))
	assert.Equal(t, domain.SideNo, Side(domain.ActionHold, 0.50))
	assert.Equal(t, domain.SideNo, Side(domain.ActionHold, 0.80))
}

func TestSide_Flip(t *testing.T) {
	assert.Equal(t, domain.SideYes, Side(domain.ActionFlip, 0.60))
	assert.Equal(t, domain.SideNo, Side(domain.ActionFlip, 0.65))
}

func TestSide_SkipHasNoSide(t *testing.T) {
	assert.Equal(t, domain.Side(""), Side(domain.ActionSkip, 0.40))
}
