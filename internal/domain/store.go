package domain

import (
	"context"
	"time"
)

// PositionStore persists open positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	// Update replaces the mutable price fields of an open position.
	Update(ctx context.Context, pos Position) error
	// Delete removes a position from the open set once it has been
	// finalized into a trade record.
	Delete(ctx context.Context, id string) error
	GetByMarket(ctx context.Context, marketID string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
}

// TradeStore persists the append-only trade history.
type TradeStore interface {
	Create(ctx context.Context, trade Trade) error
	// Finalize sets the exit price, realized PnL, status, close reason and
	// closed timestamp of an OPEN trade. It fails with ErrNotFound when the
	// trade does not exist or is already finalized.
	Finalize(ctx context.Context, id string, exitPrice, realizedPnL float64, status TradeStatus, reason string, closedAt time.Time) error
	GetByID(ctx context.Context, id string) (Trade, error)
	// LastClosedForMarket returns the most recently closed or stopped trade
	// for the given market, or ErrNotFound when the market has no history.
	LastClosedForMarket(ctx context.Context, marketID string) (Trade, error)
	// ListClosedBefore returns finalized trades whose close timestamp is
	// older than the cutoff, for archival.
	ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Trade, error)
	ListRecent(ctx context.Context, limit int) ([]Trade, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of lifecycle transitions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}

// ParamsStore persists risk parameter versions for the administrative
// surface. Readers load the latest version at startup and after updates.
type ParamsStore interface {
	Latest(ctx context.Context) (RiskParameters, error)
	Save(ctx context.Context, params RiskParameters) error
}
