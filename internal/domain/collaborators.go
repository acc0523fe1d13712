package domain

import "context"

// MarketDataSource supplies market snapshots and live prices. Network and
// parse errors must propagate; implementations never substitute stale data.
type MarketDataSource interface {
	ListOpenMarkets(ctx context.Context, limit int) ([]MarketSnapshot, error)
	GetPrice(ctx context.Context, marketID string) (float64, error)
}

// OrderStatus tracks the outcome of a placement.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusAccepted OrderStatus = "accepted"
	OrderStatusRejected OrderStatus = "rejected"
)

// OrderResult wraps the gateway response after order submission. A result
// with an empty OrderID must be treated as a failed placement.
type OrderResult struct {
	OrderID string
	TxRef   string
	Status  OrderStatus
}

// OrderGateway submits limit orders to the execution venue. A simulation
// implementation returns synthetic successful results without any network
// call, for dry runs and tests.
type OrderGateway interface {
	PlaceLimitOrder(ctx context.Context, marketID string, side Side, price, sizeEUR float64) (OrderResult, error)
}

// NotificationSink receives fire-and-forget lifecycle events. Failures are
// logged and swallowed by callers, never propagated into state transitions.
type NotificationSink interface {
	Notify(ctx context.Context, event, title, message string) error
}
