package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfold/flipbot/internal/domain"
)

const closeReasonStopLoss = "stop_loss"
const closeReasonTakeProfit = "take_profit"

// maxPriceAge bounds how old a cached price may be before the monitor
// refetches from the source. Without it a dead feed would freeze every
// position at its last cached price and triggers would never fire.
const maxPriceAge = 5 * time.Minute

// CycleStats summarizes one monitor pass over the open positions.
type CycleStats struct {
	Checked int
	Closed  int
	Updated int
	Skipped int
	Errors  int
}

// Monitor watches open positions and closes them when a stop-loss or
// take-profit trigger fires. It is the only writer of position price fields,
// which keeps the evaluation of each position single-threaded even when price
// updates also arrive over the push feed.
type Monitor struct {
	mgr       *Manager
	positions domain.PositionStore
	source    domain.MarketDataSource
	prices    domain.PriceCache

	interval     time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger

	mu   sync.Mutex
	busy map[string]struct{}
}

// NewMonitor wires the monitor. prices may be nil, in which case every price
// comes from the data source directly.
func NewMonitor(mgr *Manager, positions domain.PositionStore, source domain.MarketDataSource, prices domain.PriceCache, interval, fetchTimeout time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		mgr:          mgr,
		positions:    positions,
		source:       source,
		prices:       prices,
		interval:     interval,
		fetchTimeout: fetchTimeout,
		logger:       logger.With(slog.String("component", "monitor")),
		busy:         make(map[string]struct{}),
	}
}

// Run executes monitor cycles on the configured interval until ctx is
// cancelled. A failed cycle is logged and the loop continues; an in-flight
// cycle always finishes before shutdown.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.InfoContext(ctx, "monitor started", slog.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			stats, err := m.MonitorPositions(ctx)
			if err != nil {
				m.logger.ErrorContext(ctx, "monitor cycle failed", slog.Any("error", err))
				continue
			}
			m.logger.DebugContext(ctx, "monitor cycle complete",
				slog.Int("checked", stats.Checked),
				slog.Int("closed", stats.Closed),
				slog.Int("updated", stats.Updated),
				slog.Int("skipped", stats.Skipped),
				slog.Int("errors", stats.Errors),
			)
		}
	}
}

// MonitorPositions runs one pass over all open positions. A failure on one
// position never blocks the rest; only a failure to list the open set is
// fatal to the cycle.
func (m *Monitor) MonitorPositions(ctx context.Context) (CycleStats, error) {
	open, err := m.positions.ListOpen(ctx)
	if err != nil {
		return CycleStats{}, fmt.Errorf("monitor: list open positions: %w", err)
	}

	var stats CycleStats
	for _, pos := range open {
		stats.Checked++
		outcome, err := m.evaluate(ctx, pos)
		if err != nil {
			stats.Errors++
			m.logger.WarnContext(ctx, "position evaluation failed",
				slog.String("market_id", pos.MarketID),
				slog.Any("error", err),
			)
			continue
		}
		switch outcome {
		case outcomeClosed:
			stats.Closed++
		case outcomeUpdated:
			stats.Updated++
		case outcomeSkipped:
			stats.Skipped++
		}
	}
	return stats, nil
}

// HandlePriceUpdate is the push-feed entry point. It evaluates the position
// for marketID, if any, against the delivered price. Unknown markets are
// ignored silently since the feed also carries markets without positions.
func (m *Monitor) HandlePriceUpdate(ctx context.Context, marketID string, price float64) error {
	pos, err := m.positions.GetByMarket(ctx, marketID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("monitor: get position for %s: %w", marketID, err)
	}
	_, err = m.apply(ctx, pos, price)
	return err
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeUpdated
	outcomeClosed
	outcomeUnchanged
)

// evaluate fetches the current price for one position and applies the
// triggers. The fetch is bounded by the per-fetch timeout: a slow source
// skips the position for this tick rather than stalling the cycle.
func (m *Monitor) evaluate(ctx context.Context, pos domain.Position) (outcome, error) {
	price, err := m.fetchPrice(ctx, pos.MarketID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			m.logger.WarnContext(ctx, "price fetch timed out, skipping position this tick",
				slog.String("market_id", pos.MarketID),
			)
			return outcomeSkipped, nil
		}
		return outcomeSkipped, err
	}
	return m.apply(ctx, pos, price)
}

// apply runs the trigger checks for one position at one price. The stop-loss
// is checked before the take-profit and the first match wins. At most one
// evaluation runs per market at a time; concurrent deliveries for the same
// market are dropped, not queued, since a fresher price follows shortly.
func (m *Monitor) apply(ctx context.Context, pos domain.Position, price float64) (outcome, error) {
	if !m.tryAcquire(pos.MarketID) {
		return outcomeSkipped, nil
	}
	defer m.release(pos.MarketID)

	switch {
	case stopTriggered(pos, price):
		_, err := m.mgr.close(ctx, pos, price, domain.TradeStatusStopped, closeReasonStopLoss)
		if err != nil {
			return outcomeSkipped, err
		}
		return outcomeClosed, nil

	case takeProfitTriggered(pos, price):
		_, err := m.mgr.close(ctx, pos, price, domain.TradeStatusClosed, closeReasonTakeProfit)
		if err != nil {
			return outcomeSkipped, err
		}
		return outcomeClosed, nil

	case price == pos.CurrentPrice:
		// Nothing moved, nothing to write.
		return outcomeUnchanged, nil

	default:
		pos.CurrentPrice = price
		pos.UnrealizedPnLEUR = UnrealizedPnL(pos.EntryPrice, price, pos.SizeEUR, pos.Side)
		if err := m.positions.Update(ctx, pos); err != nil {
			return outcomeSkipped, fmt.Errorf("monitor: update position %s: %w", pos.ID, err)
		}
		return outcomeUpdated, nil
	}
}

// fetchPrice prefers a fresh cached price and falls back to the data source
// under the per-fetch timeout. A cached price older than maxPriceAge is
// treated as missing.
func (m *Monitor) fetchPrice(ctx context.Context, marketID string) (float64, error) {
	if m.prices != nil {
		if price, ts, err := m.prices.GetPrice(ctx, marketID); err == nil && time.Since(ts) <= maxPriceAge {
			return price, nil
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	price, err := m.source.GetPrice(fetchCtx, marketID)
	if err != nil {
		return 0, fmt.Errorf("monitor: fetch price for %s: %w", marketID, err)
	}
	return price, nil
}

func (m *Monitor) tryAcquire(marketID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.busy[marketID]; held {
		return false
	}
	m.busy[marketID] = struct{}{}
	return true
}

func (m *Monitor) release(marketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.busy, marketID)
}
