// Package scoring contains the pure expected-value formulas behind the
// hold-versus-flip decision. Functions here have no state and no I/O; all
// monetary outputs are rounded to two decimal places. Inputs are not range
// validated, that is the scanner's job.
package scoring

import "math"

// longTermPenaltyPerDay is the EUR penalty applied for every day a market
// runs past the 30-day lock-up horizon.
const longTermPenaltyPerDay = 0.5

// roundEUR rounds to cents.
func roundEUR(v float64) float64 {
	return math.Round(v*100) / 100
}

// HoldValueScore is the expected net EUR profit of holding a contract to
// resolution, penalized for capital lock-up and excessive duration:
//
//	HVS = (1-entry)*size*p - entry*size*(1-p) - size*cost*days - longTermPenalty
//
// where longTermPenalty grows linearly beyond 30 days to resolution.
func HoldValueScore(entryPrice, sizeEUR, winProbability, daysToResolution, dailyOpportunityCost float64) float64 {
	winProfit := (1 - entryPrice) * sizeEUR * winProbability
	loseCost := entryPrice * sizeEUR * (1 - winProbability)
	lockupCost := sizeEUR * dailyOpportunityCost * daysToResolution
	penalty := math.Max(0, daysToResolution-30) * longTermPenaltyPerDay
	return roundEUR(winProfit - loseCost - lockupCost - penalty)
}

// FlipExpectedValue is the expected cumulative EUR profit of repeatedly
// buying at bid and selling at ask until resolution. The horizon counts
// whole weeks only.
func FlipExpectedValue(spread, sizeEUR, fillProbability float64, flipsPerWeek int, daysToResolution float64) float64 {
	weeks := math.Floor(daysToResolution / 7)
	if weeks < 0 {
		weeks = 0
	}
	return roundEUR(spread * sizeEUR * fillProbability * float64(flipsPerWeek) * weeks)
}

// EstimateFillProbability maps a spread to the chance of getting a resting
// order filled within a flip cycle. Wider spreads are easier to get filled
// against. The breakpoints are deliberate heuristics, not a fitted model.
func EstimateFillProbability(spread float64) float64 {
	switch {
	case spread >= 0.05:
		return 0.8
	case spread >= 0.04:
		return 0.7
	case spread >= 0.03:
		return 0.6
	default:
		return 0.5
	}
}

// EstimateFlipsPerWeek maps market liquidity to a realistic number of
// completed buy/sell cycles per week.
func EstimateFlipsPerWeek(liquidityUSD float64) int {
	switch {
	case liquidityUSD >= 50_000:
		return 3
	case liquidityUSD >= 20_000:
		return 2
	default:
		return 1
	}
}
