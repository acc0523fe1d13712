package risk

import (
	"math"

	"github.com/quantfold/flipbot/internal/domain"
)

func roundEUR(v float64) float64 {
	return math.Round(v*100) / 100
}

// StopLossPrice returns the exit trigger that caps the downside of a
// position. YES positions lose when the price falls, NO positions when it
// rises.
func StopLossPrice(entryPrice float64, side domain.Side, stopLossPercent float64) float64 {
	if side == domain.SideYes {
		return entryPrice * (1 - stopLossPercent)
	}
	return entryPrice * (1 + stopLossPercent)
}

// TakeProfitPrice returns the profit target for flip positions, or nil for
// holds: a hold rides to resolution and never takes profit early.
func TakeProfitPrice(entryPrice float64, side domain.Side, strategy domain.Strategy, takeProfitPercent float64) *float64 {
	if strategy != domain.StrategyFlip {
		return nil
	}
	var tp float64
	if side == domain.SideYes {
		tp = entryPrice * (1 + takeProfitPercent)
	} else {
		tp = entryPrice * (1 - takeProfitPercent)
	}
	return &tp
}

// UnrealizedPnL values an open position at the current price, in EUR.
func UnrealizedPnL(entryPrice, currentPrice, sizeEUR float64, side domain.Side) float64 {
	if side == domain.SideYes {
		return roundEUR((currentPrice - entryPrice) * sizeEUR)
	}
	return roundEUR((entryPrice - currentPrice) * sizeEUR)
}

// stopTriggered reports whether the stop-loss fires at price.
func stopTriggered(pos domain.Position, price float64) bool {
	if pos.Side == domain.SideYes {
		return price <= pos.StopLoss
	}
	return price >= pos.StopLoss
}

// takeProfitTriggered reports whether the take-profit fires at price. Only
// flip positions carry a target.
func takeProfitTriggered(pos domain.Position, price float64) bool {
	if pos.TakeProfit == nil {
		return false
	}
	if pos.Side == domain.SideYes {
		return price >= *pos.TakeProfit
	}
	return price <= *pos.TakeProfit
}
