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

// ParamsStore implements domain.ParamsStore using PostgreSQL. Every Save
// inserts a fresh version; updates never rewrite history.
type ParamsStore struct {
	pool *pgxpool.Pool
}

var _ domain.ParamsStore = (*ParamsStore)(nil)

func NewParamsStore(pool *pgxpool.Pool) *ParamsStore {
	return &ParamsStore{pool: pool}
}

// Latest returns the newest risk parameter version.
func (s *ParamsStore) Latest(ctx context.Context) (domain.RiskParameters, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT version, max_positions, max_position_size_eur, capital_eur,
		       max_total_exposure_fraction, stop_loss_percent, take_profit_percent,
		       cooldown_seconds, min_hvs_for_hold, min_flip_ev, daily_opportunity_cost,
		       min_liquidity_usd, min_spread, max_spread, min_days, max_days,
		       exclude_categories, prefer_categories, updated_at
		FROM risk_params
		ORDER BY version DESC
		LIMIT 1`)

	var p domain.RiskParameters
	var cooldownSeconds int64
	err := row.Scan(
		&p.Version, &p.MaxPositions, &p.MaxPositionSizeEUR, &p.CapitalEUR,
		&p.MaxTotalExposureFraction, &p.StopLossPercent, &p.TakeProfitPercent,
		&cooldownSeconds, &p.Thresholds.MinHVSForHold, &p.Thresholds.MinFlipEV,
		&p.Thresholds.DailyOpportunityCost,
		&p.Filters.MinLiquidityUSD, &p.Filters.MinSpread, &p.Filters.MaxSpread,
		&p.Filters.MinDays, &p.Filters.MaxDays,
		&p.Filters.ExcludeCategories, &p.Filters.PreferCategories, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RiskParameters{}, domain.ErrNotFound
		}
		return domain.RiskParameters{}, fmt.Errorf("postgres: latest risk params: %w", err)
	}
	p.Cooldown = time.Duration(cooldownSeconds) * time.Second
	return p, nil
}

// Save inserts a new parameter version.
func (s *ParamsStore) Save(ctx context.Context, p domain.RiskParameters) error {
	const query = `
		INSERT INTO risk_params (
			max_positions, max_position_size_eur, capital_eur,
			max_total_exposure_fraction, stop_loss_percent, take_profit_percent,
			cooldown_seconds, min_hvs_for_hold, min_flip_ev, daily_opportunity_cost,
			min_liquidity_usd, min_spread, max_spread, min_days, max_days,
			exclude_categories, prefer_categories
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17
		)`

	_, err := s.pool.Exec(ctx, query,
		p.MaxPositions, p.MaxPositionSizeEUR, p.CapitalEUR,
		p.MaxTotalExposureFraction, p.StopLossPercent, p.TakeProfitPercent,
		int64(p.Cooldown/time.Second), p.Thresholds.MinHVSForHold,
		p.Thresholds.MinFlipEV, p.Thresholds.DailyOpportunityCost,
		p.Filters.MinLiquidityUSD, p.Filters.MinSpread, p.Filters.MaxSpread,
		p.Filters.MinDays, p.Filters.MaxDays,
		p.Filters.ExcludeCategories, p.Filters.PreferCategories,
	)
	if err != nil {
		return fmt.Errorf("postgres: save risk params: %w", err)
	}
	return nil
}
