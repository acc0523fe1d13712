package risk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/flipbot/internal/domain"
)

type fakePriceSource struct {
	mu     sync.Mutex
	prices map[string]float64
	errs   map[string]error
	delay  time.Duration
}

func newFakePriceSource() *fakePriceSource {
	return &fakePriceSource{prices: make(map[string]float64), errs: make(map[string]error)}
}

func (s *fakePriceSource) ListOpenMarkets(ctx context.Context, limit int) ([]domain.MarketSnapshot, error) {
	return nil, nil
}

func (s *fakePriceSource) GetPrice(ctx context.Context, marketID string) (float64, error) {
	s.mu.Lock()
	delay := s.delay
	err := s.errs[marketID]
	price := s.prices[marketID]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	return price, nil
}

func (s *fakePriceSource) set(marketID string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[marketID] = price
}

type stubPriceCache struct {
	price float64
	ts    time.Time
	set   bool
}

func (c *stubPriceCache) SetPrice(ctx context.Context, marketID string, price float64, ts time.Time) error {
	c.price, c.ts, c.set = price, ts, true
	return nil
}

func (c *stubPriceCache) GetPrice(ctx context.Context, marketID string) (float64, time.Time, error) {
	if !c.set {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return c.price, c.ts, nil
}

func (c *stubPriceCache) GetPrices(ctx context.Context, marketIDs []string) (map[string]float64, error) {
	out := make(map[string]float64)
	if c.set {
		for _, id := range marketIDs {
			out[id] = c.price
		}
	}
	return out, nil
}

type monitorFixture struct {
	*managerFixture
	source  *fakePriceSource
	monitor *Monitor
}

func newMonitorFixture(t *testing.T, params domain.RiskParameters) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		managerFixture: newManagerFixture(params),
		source:         newFakePriceSource(),
	}
	f.monitor = NewMonitor(f.mgr, f.positions, f.source, nil, time.Minute, 200*time.Millisecond, slog.Default())
	return f
}

// seedPosition installs an open position plus its OPEN trade the way the
// manager would have created them.
func (f *monitorFixture) seedPosition(t *testing.T, marketID string, side domain.Side, strategy domain.Strategy, entry, size float64, params domain.RiskParameters) domain.Position {
	t.Helper()
	pos := domain.Position{
		ID:           "pos-" + marketID,
		MarketID:     marketID,
		MarketName:   "Seeded " + marketID,
		Side:         side,
		Strategy:     strategy,
		EntryPrice:   entry,
		CurrentPrice: entry,
		SizeEUR:      size,
		StopLoss:     StopLossPrice(entry, side, params.StopLossPercent),
		TakeProfit:   TakeProfitPrice(entry, side, strategy, params.TakeProfitPercent),
		OpenedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.positions.Create(context.Background(), pos))
	require.NoError(t, f.trades.Create(context.Background(), domain.Trade{
		ID: pos.ID, MarketID: marketID, Side: side, Strategy: strategy,
		EntryPrice: entry, SizeEUR: size, Status: domain.TradeStatusOpen,
		OpenedAt: pos.OpenedAt,
	}))
	return pos
}

func TestMonitor_StopLossClosesYesPosition(t *testing.T) {
	params := riskParams()
	f := newMonitorFixture(t, params)
	// Entry 0.50 with a 15% stop puts the trigger at 0.425.
	pos := f.seedPosition(t, "mkt-1", domain.SideYes, domain.StrategyFlip, 0.50, 75, params)
	f.source.set("mkt-1", 0.40)

	stats, err := f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Checked: 1, Closed: 1}, stats)

	trade, err := f.trades.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusStopped, trade.Status)
	assert.Equal(t, "stop_loss", trade.CloseReason)
	require.NotNil(t, trade.RealizedPnLEUR)
	assert.InDelta(t, -7.50, *trade.RealizedPnLEUR, 0.001)

	_, err = f.positions.GetByMarket(context.Background(), "mkt-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMonitor_StopLossClosesNoPositionOnRise(t *testing.T) {
	params := riskParams()
	f := newMonitorFixture(t, params)
	// NO positions lose as the price rises: entry 0.40, stop at 0.46.
	pos := f.seedPosition(t, "mkt-1", domain.SideNo, domain.StrategyFlip, 0.40, 75, params)
	f.source.set("mkt-1", 0.50)

	stats, err := f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Closed)

	trade, err := f.trades.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusStopped, trade.Status)
	require.NotNil(t, trade.RealizedPnLEUR)
	assert.InDelta(t, (0.40-0.50)*75, *trade.RealizedPnLEUR, 0.001)
}

func TestMonitor_TakeProfitClosesFlip(t *testing.T) {
	params := riskParams()
	f := newMonitorFixture(t, params)
	// Entry 0.50 with a 10% target puts the trigger at 0.55.
	pos := f.seedPosition(t, "mkt-1", domain.SideYes, domain.StrategyFlip, 0.50, 75, params)
	f.source.set("mkt-1", 0.56)

	stats, err := f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Closed)

	trade, err := f.trades.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, trade.Status)
	assert.Equal(t, "take_profit", trade.CloseReason)
}

func TestMonitor_HoldNeverTakesProfit(t *testing.T) {
	params := riskParams()
	f := newMonitorFixture(t, params)
	pos := f.seedPosition(t, "mkt-1", domain.SideYes, domain.StrategyHold, 0.50, 75, params)
	require.Nil(t, pos.TakeProfit)
	f.source.set("mkt-1", 0.70)

	stats, err := f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Closed)
	assert.Equal(t, 1, stats.Updated)

	got, err := f.positions.GetByMarket(context.Background(), "mkt-1")
	require.NoError(t, err)
	assert.Equal(t, 0.70, got.CurrentPrice)
	assert.InDelta(t, 15.00, got.UnrealizedPnLEUR, 0.001)
}

func TestMonitor_StopLossBeatsTakeProfit(t *testing.T) {
	// Degenerate zero-percent triggers make both fire at the entry price; the
	// stop-loss is evaluated first and must win.
	params := riskParams()
	params.StopLossPercent = 0
	params.TakeProfitPercent = 0
	f := newMonitorFixture(t, params)
	pos := f.seedPosition(t, "mkt-1", domain.SideYes, domain.StrategyFlip, 0.50, 75, params)
	f.source.set("mkt-1", 0.50)

	stats, err := f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Closed)

	trade, err := f.trades.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusStopped, trade.Status)
	assert.Equal(t, "stop_loss", trade.CloseReason)
}

func TestMonitor_StaleCachedPriceRefetchesFromSource(t *testing.T) {
	params := riskParams()
	f := newMonitorFixture(t, params)
	pos := f.seedPosition(t, "mkt-1", domain.SideYes, domain.StrategyFlip, 0.50, 75, params)

	// The cache still holds the entry price from hours ago; the live market
	// has dropped through the 0.425 stop. The stale entry must not mask it.
	cache := &stubPriceCache{}
	require.NoError(t, cache.SetPrice(context.Background(), "mkt-1", 0.50, time.Now().UTC().Add(-2*time.Hour)))
	f.monitor = NewMonitor(f.mgr, f.positions, f.source, cache, time.Minute, 200*time.Millisecond, slog.Default())
	f.source.set("mkt-1", 0.40)

	stats, err := f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Checked: 1, Closed: 1}, stats)

	trade, err := f.trades.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusStopped, trade.Status)
	assert.Equal(t, "stop_loss", trade.CloseReason)
}

func TestMonitor_FreshCachedPriceSkipsSource(t *testing.T) {
	params := riskParams()
	f := newMonitorFixture(t, params)
	f.seedPosition(t, "mkt-1", domain.SideYes, domain.StrategyFlip, 0.50, 75, params)

	cache := &stubPriceCache{}
	require.NoError(t, cache.SetPrice(context.Background(), "mkt-1", 0.40, time.Now().UTC()))
	f.monitor = NewMonitor(f.mgr, f.positions, f.source, cache, time.Minute, 200*time.Millisecond, slog.Default())
	// A broken source proves the fresh cached price is used as-is.
	f.source.errs["mkt-1"] = errors.New("upstream 500")

	stats, err := f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Checked: 1, Closed: 1}, stats)
}

func TestMonitor_SecondCycleIsIdempotent(t *testing.T) {
	params := riskParams()
	f := newMonitorFixture(t, params)
	f.seedPosition(t, "mkt-1", domain.SideYes, domain.StrategyFlip, 0.50, 75, params)
	f.source.set("mkt-1", 0.40)

	stats, err := f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Closed)

	stats, err = f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{}, stats, "a closed position must not be seen again")
}

func TestMonitor_UnchangedPriceWritesNothing(t *testing.T) {
	params := riskParams()
	f := newMonitorFixture(t, params)
	f.seedPosition(t, "mkt-1", domain.SideYes, domain.StrategyFlip, 0.50, 75, params)
	f.source.set("mkt-1", 0.52)

	stats, err := f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)

	stats, err = f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Updated, "same price twice must not update again")
}

func TestMonitor_FetchTimeoutSkipsTick(t *testing.T) {
	params := riskParams()
	f := newMonitorFixture(t, params)
	f.seedPosition(t, "mkt-1", domain.SideYes, domain.StrategyFlip, 0.50, 75, params)
	f.source.set("mkt-1", 0.40)
	f.source.delay = time.Second // fetch timeout is 200ms

	stats, err := f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Checked: 1, Skipped: 1}, stats)

	// The position survives and closes on the next healthy tick.
	f.source.delay = 0
	stats, err = f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Closed)
}

func TestMonitor_PerPositionFailureIsolation(t *testing.T) {
	params := riskParams()
	f := newMonitorFixture(t, params)
	f.seedPosition(t, "mkt-bad", domain.SideYes, domain.StrategyFlip, 0.50, 75, params)
	f.seedPosition(t, "mkt-good", domain.SideYes, domain.StrategyFlip, 0.50, 75, params)
	f.source.errs["mkt-bad"] = errors.New("upstream 500")
	f.source.set("mkt-good", 0.40)

	stats, err := f.monitor.MonitorPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Checked)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Closed)
}

func TestHandlePriceUpdate_ClosesOnStop(t *testing.T) {
	params := riskParams()
	f := newMonitorFixture(t, params)
	pos := f.seedPosition(t, "mkt-1", domain.SideYes, domain.StrategyFlip, 0.50, 75, params)

	require.NoError(t, f.monitor.HandlePriceUpdate(context.Background(), "mkt-1", 0.40))

	trade, err := f.trades.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusStopped, trade.Status)
}

func TestHandlePriceUpdate_IgnoresUnknownMarket(t *testing.T) {
	f := newMonitorFixture(t, riskParams())
	assert.NoError(t, f.monitor.HandlePriceUpdate(context.Background(), "mkt-nobody", 0.40))
}

func TestHandlePriceUpdate_ConcurrentDeliveriesCloseOnce(t *testing.T) {
	params := riskParams()
	f := newMonitorFixture(t, params)
	pos := f.seedPosition(t, "mkt-1", domain.SideYes, domain.StrategyFlip, 0.50, 75, params)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.monitor.HandlePriceUpdate(context.Background(), "mkt-1", 0.40)
		}()
	}
	wg.Wait()

	trade, err := f.trades.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusStopped, trade.Status)
	_, err = f.positions.GetByMarket(context.Background(), "mkt-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
