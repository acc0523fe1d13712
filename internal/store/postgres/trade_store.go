package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/flipbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Trade rows are
// append-only; finalization is the only update and rows are never deleted.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, market_id, market_name, side, strategy,
	entry_price, exit_price, size_eur, realized_pnl_eur, hvs, flip_ev,
	status, close_reason, execution_ref, opened_at, closed_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var side, strategy, status string

	err := row.Scan(
		&t.ID, &t.MarketID, &t.MarketName, &side, &strategy,
		&t.EntryPrice, &t.ExitPrice, &t.SizeEUR, &t.RealizedPnLEUR, &t.HVS, &t.FlipEV,
		&status, &t.CloseReason, &t.ExecutionRef, &t.OpenedAt, &t.ClosedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.Side(side)
	t.Strategy = domain.Strategy(strategy)
	t.Status = domain.TradeStatus(status)
	return t, nil
}

// Create inserts a new trade record.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, market_id, market_name, side, strategy,
			entry_price, exit_price, size_eur, realized_pnl_eur, hvs, flip_ev,
			status, close_reason, execution_ref, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.MarketID, t.MarketName, string(t.Side), string(t.Strategy),
		t.EntryPrice, t.ExitPrice, t.SizeEUR, t.RealizedPnLEUR, t.HVS, t.FlipEV,
		string(t.Status), t.CloseReason, t.ExecutionRef, t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// Finalize closes an OPEN trade. The status guard in the WHERE clause makes
// the transition first-writer-wins: a concurrent duplicate close affects zero
// rows and reports ErrNotFound.
func (s *TradeStore) Finalize(ctx context.Context, id string, exitPrice, realizedPnL float64, status domain.TradeStatus, reason string, closedAt time.Time) error {
	const query = `
		UPDATE trades SET
			exit_price       = $2,
			realized_pnl_eur = $3,
			status           = $4,
			close_reason     = $5,
			closed_at        = $6
		WHERE id = $1 AND status = 'OPEN'`

	tag, err := s.pool.Exec(ctx, query, id, exitPrice, realizedPnL, string(status), reason, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: finalize trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single trade.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)

	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// LastClosedForMarket returns the most recently finalized trade for a market.
func (s *TradeStore) LastClosedForMarket(ctx context.Context, marketID string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE market_id = $1 AND closed_at IS NOT NULL
		 ORDER BY closed_at DESC
		 LIMIT 1`, marketID)

	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: last closed trade for %s: %w", marketID, err)
	}
	return t, nil
}

// ListClosedBefore returns finalized trades older than the cutoff, oldest
// first, for archival.
func (s *TradeStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE closed_at IS NOT NULL AND closed_at < $1
		 ORDER BY closed_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades before %s: %w", cutoff, err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ListRecent returns the newest trades first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 ORDER BY opened_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trades: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
