package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/flipbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, market_id, market_name, side, strategy,
	entry_price, current_price, size_eur, unrealized_pnl_eur,
	days_to_resolution, stop_loss, take_profit, opened_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, strategy string

	err := row.Scan(
		&p.ID, &p.MarketID, &p.MarketName, &side, &strategy,
		&p.EntryPrice, &p.CurrentPrice, &p.SizeEUR, &p.UnrealizedPnLEUR,
		&p.DaysToResolution, &p.StopLoss, &p.TakeProfit, &p.OpenedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Strategy = domain.Strategy(strategy)
	return p, nil
}

// Create inserts a new open position. The unique index on market_id enforces
// the one-position-per-market invariant at the storage layer as well.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, market_id, market_name, side, strategy,
			entry_price, current_price, size_eur, unrealized_pnl_eur,
			days_to_resolution, stop_loss, take_profit, opened_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.MarketID, p.MarketName, string(p.Side), string(p.Strategy),
		p.EntryPrice, p.CurrentPrice, p.SizeEUR, p.UnrealizedPnLEUR,
		p.DaysToResolution, p.StopLoss, p.TakeProfit, p.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces the mutable price fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			current_price      = $2,
			unrealized_pnl_eur = $3,
			days_to_resolution = $4,
			updated_at         = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.CurrentPrice, p.UnrealizedPnLEUR, p.DaysToResolution,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a finalized position from the open set.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByMarket retrieves the open position for a market.
func (s *PositionStore) GetByMarket(ctx context.Context, marketID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE market_id = $1`, marketID)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position for market %s: %w", marketID, err)
	}
	return p, nil
}

// ListOpen returns every open position, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open positions: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
