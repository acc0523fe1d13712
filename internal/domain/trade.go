package domain

import "time"

// TradeStatus tracks the lifecycle of a trade record.
type TradeStatus string

const (
	TradeStatusOpen    TradeStatus = "OPEN"
	TradeStatusClosed  TradeStatus = "CLOSED"
	TradeStatusStopped TradeStatus = "STOPPED"
)

// Trade is the immutable historical record of an order. It is created
// atomically with its Position on open and finalized when the position
// closes. Trade rows are never deleted.
type Trade struct {
	ID             string
	MarketID       string
	MarketName     string
	Side           Side
	Strategy       Strategy
	EntryPrice     float64
	ExitPrice      *float64 // nil while open
	SizeEUR        float64
	RealizedPnLEUR *float64 // nil while open
	// Scores at decision time, kept for later analysis.
	HVS          float64
	FlipEV       float64
	Status       TradeStatus
	CloseReason  string
	ExecutionRef string
	OpenedAt     time.Time
	ClosedAt     *time.Time
}
