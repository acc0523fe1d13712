// Package decision classifies scored markets into HOLD, FLIP or SKIP. The
// classifier is state free and deterministic given its inputs and the current
// risk parameter version.
package decision

import (
	"fmt"

	"github.com/quantfold/flipbot/internal/domain"
	"github.com/quantfold/flipbot/internal/scoring"
)

// holdMargin is the hysteresis factor HOLD must clear over FLIP. It keeps
// marginal markets from flip-flopping between strategies across scans.
const holdMargin = 1.3

// minFlipDays is the minimum runway a market needs for flipping to pay off.
const minFlipDays = 3.0

// Decision is the classifier output for one market.
type Decision struct {
	Action     domain.Action
	HVS        float64
	FlipEV     float64
	Reasoning  string
	Confidence domain.Confidence
}

// Decide scores a market for both strategies and applies the rule set in
// fixed order: HOLD is evaluated first and wins ties. The scanner passes the
// market price itself as winProbability, a naive proxy kept for parity with
// live behavior.
func Decide(params domain.RiskParameters, sizeEUR, entryPrice, winProbability, spread, daysToResolution, liquidityUSD float64) Decision {
	hvs := scoring.HoldValueScore(entryPrice, sizeEUR, winProbability, daysToResolution, params.Thresholds.DailyOpportunityCost)

	fillProb := scoring.EstimateFillProbability(spread)
	flipsPerWeek := scoring.EstimateFlipsPerWeek(liquidityUSD)
	flipEV := scoring.FlipExpectedValue(spread, sizeEUR, fillProb, flipsPerWeek, daysToResolution)

	if hvs >= params.Thresholds.MinHVSForHold && hvs > flipEV*holdMargin {
		conf := domain.ConfidenceMedium
		if hvs > 15 {
			conf = domain.ConfidenceHigh
		}
		return Decision{
			Action:     domain.ActionHold,
			HVS:        hvs,
			FlipEV:     flipEV,
			Reasoning:  fmt.Sprintf("hold value %.2f clears %.2f and beats flip EV %.2f with margin", hvs, params.Thresholds.MinHVSForHold, flipEV),
			Confidence: conf,
		}
	}

	if flipEV >= params.Thresholds.MinFlipEV && spread >= params.Filters.MinSpread && daysToResolution >= minFlipDays {
		conf := domain.ConfidenceMedium
		if spread > 0.05 {
			conf = domain.ConfidenceHigh
		}
		return Decision{
			Action:     domain.ActionFlip,
			HVS:        hvs,
			FlipEV:     flipEV,
			Reasoning:  fmt.Sprintf("flip EV %.2f clears %.2f on a %.1f%% spread", flipEV, params.Thresholds.MinFlipEV, spread*100),
			Confidence: conf,
		}
	}

	return Decision{
		Action:     domain.ActionSkip,
		HVS:        hvs,
		FlipEV:     flipEV,
		Reasoning:  fmt.Sprintf("neither strategy profitable (hvs=%.2f, flipEV=%.2f)", hvs, flipEV),
		Confidence: domain.ConfidenceLow,
	}
}

// Side selects which outcome to trade for the chosen action. Holds bet on
// convergence toward the underpriced side; flips bias toward the generally
// more liquid YES book.
func Side(action domain.Action, midPrice float64) domain.Side {
	switch action {
	case domain.ActionHold:
		if midPrice < 0.50 {
			return domain.SideYes
		}
		return domain.SideNo
	case domain.ActionFlip:
		if midPrice < 0.65 {
			return domain.SideYes
		}
		return domain.SideNo
	default:
		return ""
	}
}
