package domain

import "time"

// Side is one of the two complementary outcomes of a binary contract.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Strategy identifies which playbook a position follows.
type Strategy string

const (
	StrategyHold Strategy = "HOLD"
	StrategyFlip Strategy = "FLIP"
)

// Position is an open exposure in one market. At most one open position may
// exist per market id. It is mutated only by the position monitor (price and
// PnL refresh) or by an explicit close, and is removed from the open set when
// it transitions into a finalized Trade.
type Position struct {
	ID               string
	MarketID         string
	MarketName       string
	Side             Side
	Strategy         Strategy
	EntryPrice       float64
	CurrentPrice     float64
	SizeEUR          float64
	UnrealizedPnLEUR float64
	DaysToResolution float64
	StopLoss         float64
	TakeProfit       *float64 // nil for HOLD positions
	OpenedAt         time.Time
}
