package domain

// Action is the strategy classification assigned to a scanned market.
type Action string

const (
	ActionHold Action = "HOLD"
	ActionFlip Action = "FLIP"
	ActionSkip Action = "SKIP"
)

// Confidence grades how strongly the decision engine believes in an action.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Opportunity is a scored market produced by one scan cycle. It is created
// fresh every cycle, never mutated, and consumed once by the risk manager or
// discarded.
type Opportunity struct {
	MarketID         string
	MarketName       string
	Category         string
	EntryPrice       float64
	Spread           float64
	DaysToResolution float64
	// WinProbability is the market price itself, a deliberate naive proxy.
	WinProbability float64
	LiquidityUSD   float64
	HVS            float64 // hold value score, EUR
	FlipEV         float64 // flip expected value, EUR
	Action         Action
	Side           Side
	Reasoning      string
	Confidence     Confidence
}
