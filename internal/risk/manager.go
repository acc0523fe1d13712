// Package risk owns the position lifecycle: admission checks before a trade
// opens, stop-loss and take-profit math while it runs, and the atomic
// close-and-record transition when it ends.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/flipbot/internal/domain"
)

const (
	admissionLockKey  = "flipbot:admission"
	admissionLockTTL  = 10 * time.Second
	admissionLockWait = 5 * time.Second
	admissionLockPoll = 100 * time.Millisecond
)

// Denial explains why an admission check refused to open a position. A denial
// is an expected outcome, not an error: store failures travel on the error
// return instead.
type Denial struct {
	Check   string
	Message string
	// CooldownRemaining is set only for cooldown denials.
	CooldownRemaining time.Duration
}

// Admission is the result of the pre-trade checks.
type Admission struct {
	Allowed bool
	Denial  *Denial
}

func deny(check, message string) Admission {
	return Admission{Denial: &Denial{Check: check, Message: message}}
}

// Manager enforces the risk limits around position opening and closing.
type Manager struct {
	positions domain.PositionStore
	trades    domain.TradeStore
	gateway   domain.OrderGateway
	locks     domain.LockManager
	params    domain.ParamsProvider
	audit     domain.AuditStore
	notifier  domain.NotificationSink
	logger    *slog.Logger
}

// NewManager wires the manager. audit and notifier may be nil; both are
// best-effort side channels.
func NewManager(
	positions domain.PositionStore,
	trades domain.TradeStore,
	gateway domain.OrderGateway,
	locks domain.LockManager,
	params domain.ParamsProvider,
	audit domain.AuditStore,
	notifier domain.NotificationSink,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		positions: positions,
		trades:    trades,
		gateway:   gateway,
		locks:     locks,
		params:    params,
		audit:     audit,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "risk")),
	}
}

// CanOpenPosition runs the admission checks in fixed order: position count,
// total exposure, then per-market cooldown. The first failing check wins and
// later checks are not evaluated. Callers that intend to act on an approval
// must hold the admission lock; use OpenFromOpportunity for that.
func (m *Manager) CanOpenPosition(ctx context.Context, marketID string, sizeEUR float64) (Admission, error) {
	params := m.params.Current()

	open, err := m.positions.ListOpen(ctx)
	if err != nil {
		return Admission{}, fmt.Errorf("risk: list open positions: %w", err)
	}

	if len(open) >= params.MaxPositions {
		m.logger.WarnContext(ctx, "admission denied",
			slog.String("check", "max_positions"),
			slog.String("market_id", marketID),
			slog.Int("open", len(open)),
			slog.Int("max", params.MaxPositions),
		)
		return deny("max_positions", fmt.Sprintf("max positions reached (%d/%d)", len(open), params.MaxPositions)), nil
	}

	exposure := 0.0
	for _, pos := range open {
		exposure += pos.SizeEUR
	}
	limit := params.CapitalEUR * params.MaxTotalExposureFraction
	if exposure+sizeEUR > limit {
		m.logger.WarnContext(ctx, "admission denied",
			slog.String("check", "max_exposure"),
			slog.String("market_id", marketID),
			slog.Float64("exposure_eur", exposure),
			slog.Float64("size_eur", sizeEUR),
			slog.Float64("limit_eur", limit),
		)
		return deny("max_exposure", fmt.Sprintf("exposure %.2f + %.2f exceeds limit %.2f EUR", exposure, sizeEUR, limit)), nil
	}

	last, err := m.trades.LastClosedForMarket(ctx, marketID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// No history, no cooldown.
	case err != nil:
		return Admission{}, fmt.Errorf("risk: last closed trade for %s: %w", marketID, err)
	case last.ClosedAt != nil:
		elapsed := time.Since(*last.ClosedAt)
		if elapsed < params.Cooldown {
			remaining := params.Cooldown - elapsed
			m.logger.WarnContext(ctx, "admission denied",
				slog.String("check", "cooldown"),
				slog.String("market_id", marketID),
				slog.Duration("remaining", remaining),
			)
			adm := deny("cooldown", fmt.Sprintf("market in cooldown for another %s", remaining.Round(time.Minute)))
			adm.Denial.CooldownRemaining = remaining
			return adm, nil
		}
	}

	return Admission{Allowed: true}, nil
}

// OpenFromOpportunity turns an approved opportunity into a live position. The
// whole check-then-open sequence runs under the admission lock so two
// concurrent callers can never both pass the same limit headroom.
func (m *Manager) OpenFromOpportunity(ctx context.Context, opp domain.Opportunity) (domain.Position, Admission, error) {
	if opp.Action == domain.ActionSkip {
		return domain.Position{}, deny("action", "opportunity was classified SKIP"), nil
	}

	unlock, err := m.acquireAdmission(ctx)
	if err != nil {
		return domain.Position{}, Admission{}, err
	}
	defer unlock()

	params := m.params.Current()
	size := params.MaxPositionSizeEUR

	adm, err := m.CanOpenPosition(ctx, opp.MarketID, size)
	if err != nil || !adm.Allowed {
		return domain.Position{}, adm, err
	}

	if _, err := m.positions.GetByMarket(ctx, opp.MarketID); err == nil {
		return domain.Position{}, deny("market_open", "position already open for market"), nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Position{}, Admission{}, fmt.Errorf("risk: check open position for %s: %w", opp.MarketID, err)
	}

	res, err := m.gateway.PlaceLimitOrder(ctx, opp.MarketID, opp.Side, opp.EntryPrice, size)
	if err != nil {
		return domain.Position{}, Admission{}, fmt.Errorf("risk: place order for %s: %w", opp.MarketID, err)
	}
	if res.OrderID == "" {
		return domain.Position{}, Admission{}, fmt.Errorf("risk: order for %s: %w", opp.MarketID, domain.ErrAmbiguousOrder)
	}

	now := time.Now().UTC()
	pos := domain.Position{
		ID:               uuid.NewString(),
		MarketID:         opp.MarketID,
		MarketName:       opp.MarketName,
		Side:             opp.Side,
		Strategy:         domain.Strategy(opp.Action),
		EntryPrice:       opp.EntryPrice,
		CurrentPrice:     opp.EntryPrice,
		SizeEUR:          size,
		DaysToResolution: opp.DaysToResolution,
		StopLoss:         StopLossPrice(opp.EntryPrice, opp.Side, params.StopLossPercent),
		TakeProfit:       TakeProfitPrice(opp.EntryPrice, opp.Side, domain.Strategy(opp.Action), params.TakeProfitPercent),
		OpenedAt:         now,
	}

	if err := m.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, Admission{}, fmt.Errorf("risk: create position for %s: %w", opp.MarketID, err)
	}

	trade := domain.Trade{
		ID:           pos.ID,
		MarketID:     opp.MarketID,
		MarketName:   opp.MarketName,
		Side:         opp.Side,
		Strategy:     pos.Strategy,
		EntryPrice:   opp.EntryPrice,
		SizeEUR:      size,
		HVS:          opp.HVS,
		FlipEV:       opp.FlipEV,
		Status:       domain.TradeStatusOpen,
		ExecutionRef: res.OrderID,
		OpenedAt:     now,
	}
	if err := m.trades.Create(ctx, trade); err != nil {
		return domain.Position{}, Admission{}, fmt.Errorf("risk: create trade for %s: %w", opp.MarketID, err)
	}

	m.logger.InfoContext(ctx, "position opened",
		slog.String("market_id", pos.MarketID),
		slog.String("side", string(pos.Side)),
		slog.String("strategy", string(pos.Strategy)),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("size_eur", pos.SizeEUR),
		slog.String("order_id", res.OrderID),
	)
	m.recordAudit(ctx, "position_opened", map[string]any{
		"market_id": pos.MarketID,
		"side":      string(pos.Side),
		"strategy":  string(pos.Strategy),
		"size_eur":  pos.SizeEUR,
		"order_id":  res.OrderID,
	})
	m.notify(ctx, "position_opened", "Position opened",
		fmt.Sprintf("%s %s %s @ %.3f for %.2f EUR", pos.Strategy, pos.Side, pos.MarketName, pos.EntryPrice, pos.SizeEUR))

	return pos, adm, nil
}

// ClosePosition closes an open position by market id at the given exit price,
// recording the reason "manual". Used by the administrative surface.
func (m *Manager) ClosePosition(ctx context.Context, marketID string, exitPrice float64) (domain.Trade, error) {
	pos, err := m.positions.GetByMarket(ctx, marketID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("risk: get position for %s: %w", marketID, err)
	}
	return m.close(ctx, pos, exitPrice, domain.TradeStatusClosed, "manual")
}

// close finalizes the trade record and removes the position from the open
// set. Finalize refuses already-finalized trades, so a second close of the
// same position degrades to cleanup of a leftover position row: the earlier
// close record is returned as-is and no audit entry or notification is
// emitted again.
func (m *Manager) close(ctx context.Context, pos domain.Position, exitPrice float64, status domain.TradeStatus, reason string) (domain.Trade, error) {
	realized := UnrealizedPnL(pos.EntryPrice, exitPrice, pos.SizeEUR, pos.Side)
	closedAt := time.Now().UTC()

	err := m.trades.Finalize(ctx, pos.ID, exitPrice, realized, status, reason, closedAt)
	alreadyFinal := errors.Is(err, domain.ErrNotFound)
	if err != nil && !alreadyFinal {
		return domain.Trade{}, fmt.Errorf("risk: finalize trade %s: %w", pos.ID, err)
	}

	if err := m.positions.Delete(ctx, pos.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Trade{}, fmt.Errorf("risk: delete position %s: %w", pos.ID, err)
	}

	if alreadyFinal {
		// Someone else finalized this trade first and the operator was
		// already told about the close. Only the leftover position row was
		// cleaned up here.
		m.logger.InfoContext(ctx, "stale position cleaned up",
			slog.String("market_id", pos.MarketID),
			slog.String("trade_id", pos.ID),
		)
		trade, err := m.trades.GetByID(ctx, pos.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.Trade{}, fmt.Errorf("risk: load finalized trade %s: %w", pos.ID, err)
		}
		return trade, nil
	}

	m.logger.InfoContext(ctx, "position closed",
		slog.String("market_id", pos.MarketID),
		slog.String("reason", reason),
		slog.String("status", string(status)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl_eur", realized),
	)
	m.recordAudit(ctx, "position_closed", map[string]any{
		"market_id":        pos.MarketID,
		"reason":           reason,
		"status":           string(status),
		"exit_price":       exitPrice,
		"realized_pnl_eur": realized,
	})
	m.notify(ctx, "position_closed", "Position closed",
		fmt.Sprintf("%s closed (%s) @ %.3f, PnL %.2f EUR", pos.MarketName, reason, exitPrice, realized))

	return domain.Trade{
		ID:             pos.ID,
		MarketID:       pos.MarketID,
		MarketName:     pos.MarketName,
		Side:           pos.Side,
		Strategy:       pos.Strategy,
		EntryPrice:     pos.EntryPrice,
		ExitPrice:      &exitPrice,
		SizeEUR:        pos.SizeEUR,
		RealizedPnLEUR: &realized,
		Status:         status,
		CloseReason:    reason,
		OpenedAt:       pos.OpenedAt,
		ClosedAt:       &closedAt,
	}, nil
}

// acquireAdmission takes the admission lock, polling while another opener
// holds it. Giving up after a bounded wait keeps a crashed lock holder from
// stalling the scan loop past the lock TTL.
func (m *Manager) acquireAdmission(ctx context.Context) (func(), error) {
	deadline := time.Now().Add(admissionLockWait)
	for {
		unlock, err := m.locks.Acquire(ctx, admissionLockKey, admissionLockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("risk: acquire admission lock: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("risk: admission lock wait exceeded: %w", domain.ErrLockHeld)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(admissionLockPoll):
		}
	}
}

func (m *Manager) recordAudit(ctx context.Context, event string, detail map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.logger.WarnContext(ctx, "audit write failed", slog.String("event", event), slog.Any("error", err))
	}
}

func (m *Manager) notify(ctx context.Context, event, title, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, event, title, message); err != nil {
		m.logger.WarnContext(ctx, "notification failed", slog.String("event", event), slog.Any("error", err))
	}
}
