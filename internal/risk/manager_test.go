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

	"github.com/quantfold/flipbot/internal/cache/memory"
	"github.com/quantfold/flipbot/internal/domain"
)

type fakePositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{positions: make(map[string]domain.Position)}
}

func (s *fakePositionStore) Create(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
	return nil
}

func (s *fakePositionStore) Update(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *fakePositionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.positions, id)
	return nil
}

func (s *fakePositionStore) GetByMarket(ctx context.Context, marketID string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pos := range s.positions {
		if pos.MarketID == marketID {
			return pos, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *fakePositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, pos)
	}
	return out, nil
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades map[string]domain.Trade
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{trades: make(map[string]domain.Trade)}
}

func (s *fakeTradeStore) Create(ctx context.Context, trade domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[trade.ID] = trade
	return nil
}

func (s *fakeTradeStore) Finalize(ctx context.Context, id string, exitPrice, realizedPnL float64, status domain.TradeStatus, reason string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok || trade.Status != domain.TradeStatusOpen {
		return domain.ErrNotFound
	}
	trade.ExitPrice = &exitPrice
	trade.RealizedPnLEUR = &realizedPnL
	trade.Status = status
	trade.CloseReason = reason
	trade.ClosedAt = &closedAt
	s.trades[id] = trade
	return nil
}

func (s *fakeTradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return trade, nil
}

func (s *fakeTradeStore) LastClosedForMarket(ctx context.Context, marketID string) (domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest domain.Trade
	found := false
	for _, trade := range s.trades {
		if trade.MarketID != marketID || trade.ClosedAt == nil {
			continue
		}
		if !found || trade.ClosedAt.After(*latest.ClosedAt) {
			latest = trade
			found = true
		}
	}
	if !found {
		return domain.Trade{}, domain.ErrNotFound
	}
	return latest, nil
}

func (s *fakeTradeStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, trade := range s.trades {
		if trade.ClosedAt != nil && trade.ClosedAt.Before(cutoff) {
			out = append(out, trade)
		}
	}
	return out, nil
}

func (s *fakeTradeStore) ListRecent(ctx context.Context, limit int) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Trade, 0, len(s.trades))
	for _, trade := range s.trades {
		out = append(out, trade)
	}
	return out, nil
}

type fakeGateway struct {
	mu     sync.Mutex
	calls  int
	result domain.OrderResult
	err    error
}

func (g *fakeGateway) PlaceLimitOrder(ctx context.Context, marketID string, side domain.Side, price, sizeEUR float64) (domain.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.result, g.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (n *fakeNotifier) Notify(ctx context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func riskParams() domain.RiskParameters {
	return domain.RiskParameters{
		MaxPositions:             3,
		MaxPositionSizeEUR:       75,
		CapitalEUR:               1_000,
		MaxTotalExposureFraction: 0.5,
		StopLossPercent:          0.15,
		TakeProfitPercent:        0.10,
		Cooldown:                 time.Hour,
	}
}

type managerFixture struct {
	positions *fakePositionStore
	trades    *fakeTradeStore
	gateway   *fakeGateway
	notifier  *fakeNotifier
	mgr       *Manager
}

func newManagerFixture(params domain.RiskParameters) *managerFixture {
	f := &managerFixture{
		positions: newFakePositionStore(),
		trades:    newFakeTradeStore(),
		gateway:   &fakeGateway{result: domain.OrderResult{OrderID: "ord-1", Status: domain.OrderStatusFilled}},
		notifier:  &fakeNotifier{},
	}
	f.mgr = NewManager(f.positions, f.trades, f.gateway, memory.NewLockManager(),
		domain.StaticParams{Params: params}, nil, f.notifier, slog.Default())
	return f
}

func flipOpportunity(marketID string) domain.Opportunity {
	return domain.Opportunity{
		MarketID:         marketID,
		MarketName:       "Test market",
		EntryPrice:       0.43,
		Spread:           0.04,
		DaysToResolution: 65,
		Action:           domain.ActionFlip,
		Side:             domain.SideYes,
		HVS:              -13.38,
		FlipEV:           37.80,
		Confidence:       domain.ConfidenceMedium,
	}
}

func TestCanOpenPosition_Allowed(t *testing.T) {
	f := newManagerFixture(riskParams())

	adm, err := f.mgr.CanOpenPosition(context.Background(), "mkt-1", 75)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.Nil(t, adm.Denial)
}

func TestCanOpenPosition_MaxPositions(t *testing.T) {
	params := riskParams()
	params.MaxPositions = 1
	f := newManagerFixture(params)
	require.NoError(t, f.positions.Create(context.Background(), domain.Position{ID: "p1", MarketID: "mkt-open", SizeEUR: 75}))

	adm, err := f.mgr.CanOpenPosition(context.Background(), "mkt-1", 75)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	require.NotNil(t, adm.Denial)
	assert.Equal(t, "max_positions", adm.Denial.Check)
}

func TestCanOpenPosition_MaxExposure(t *testing.T) {
	f := newManagerFixture(riskParams())
	// Limit is 1000 * 0.5 = 500 EUR; 450 open + 75 requested breaches it.
	require.NoError(t, f.positions.Create(context.Background(), domain.Position{ID: "p1", MarketID: "mkt-open", SizeEUR: 450}))

	adm, err := f.mgr.CanOpenPosition(context.Background(), "mkt-1", 75)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	require.NotNil(t, adm.Denial)
	assert.Equal(t, "max_exposure", adm.Denial.Check)
}

func TestCanOpenPosition_Cooldown(t *testing.T) {
	f := newManagerFixture(riskParams())
	closedAt := time.Now().UTC().Add(-10 * time.Minute)
	f.trades.trades["t1"] = domain.Trade{
		ID: "t1", MarketID: "mkt-1", Status: domain.TradeStatusClosed, ClosedAt: &closedAt,
	}

	adm, err := f.mgr.CanOpenPosition(context.Background(), "mkt-1", 75)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	require.NotNil(t, adm.Denial)
	assert.Equal(t, "cooldown", adm.Denial.Check)
	assert.Greater(t, adm.Denial.CooldownRemaining, 45*time.Minute)
	assert.LessOrEqual(t, adm.Denial.CooldownRemaining, 50*time.Minute)
}

func TestCanOpenPosition_CooldownExpired(t *testing.T) {
	f := newManagerFixture(riskParams())
	closedAt := time.Now().UTC().Add(-2 * time.Hour)
	f.trades.trades["t1"] = domain.Trade{
		ID: "t1", MarketID: "mkt-1", Status: domain.TradeStatusClosed, ClosedAt: &closedAt,
	}

	adm, err := f.mgr.CanOpenPosition(context.Background(), "mkt-1", 75)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
}

func TestCanOpenPosition_CheckOrder(t *testing.T) {
	// All three checks would fail; the count check runs first and wins.
	params := riskParams()
	params.MaxPositions = 1
	f := newManagerFixture(params)
	require.NoError(t, f.positions.Create(context.Background(), domain.Position{ID: "p1", MarketID: "mkt-open", SizeEUR: 600}))
	closedAt := time.Now().UTC().Add(-time.Minute)
	f.trades.trades["t1"] = domain.Trade{
		ID: "t1", MarketID: "mkt-1", Status: domain.TradeStatusClosed, ClosedAt: &closedAt,
	}

	adm, err := f.mgr.CanOpenPosition(context.Background(), "mkt-1", 75)
	require.NoError(t, err)
	require.NotNil(t, adm.Denial)
	assert.Equal(t, "max_positions", adm.Denial.Check)
}

func TestOpenFromOpportunity_CreatesPositionAndTrade(t *testing.T) {
	f := newManagerFixture(riskParams())

	pos, adm, err := f.mgr.OpenFromOpportunity(context.Background(), flipOpportunity("mkt-1"))
	require.NoError(t, err)
	assert.True(t, adm.Allowed)

	assert.Equal(t, "mkt-1", pos.MarketID)
	assert.Equal(t, domain.StrategyFlip, pos.Strategy)
	assert.Equal(t, 75.0, pos.SizeEUR)
	assert.InDelta(t, 0.43*0.85, pos.StopLoss, 1e-9)
	require.NotNil(t, pos.TakeProfit)
	assert.InDelta(t, 0.43*1.10, *pos.TakeProfit, 1e-9)

	trade, err := f.trades.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusOpen, trade.Status)
	assert.Equal(t, "ord-1", trade.ExecutionRef)
	assert.InDelta(t, 37.80, trade.FlipEV, 0.001)

	assert.Contains(t, f.notifier.events, "position_opened")
}

func TestOpenFromOpportunity_HoldHasNoTakeProfit(t *testing.T) {
	f := newManagerFixture(riskParams())
	opp := flipOpportunity("mkt-1")
	opp.Action = domain.ActionHold
	opp.Side = domain.SideYes

	pos, _, err := f.mgr.OpenFromOpportunity(context.Background(), opp)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyHold, pos.Strategy)
	assert.Nil(t, pos.TakeProfit)
}

func TestOpenFromOpportunity_RejectsSkip(t *testing.T) {
	f := newManagerFixture(riskParams())
	opp := flipOpportunity("mkt-1")
	opp.Action = domain.ActionSkip

	_, adm, err := f.mgr.OpenFromOpportunity(context.Background(), opp)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, 0, f.gateway.calls)
}

func TestOpenFromOpportunity_RejectsDuplicateMarket(t *testing.T) {
	f := newManagerFixture(riskParams())

	_, _, err := f.mgr.OpenFromOpportunity(context.Background(), flipOpportunity("mkt-1"))
	require.NoError(t, err)

	_, adm, err := f.mgr.OpenFromOpportunity(context.Background(), flipOpportunity("mkt-1"))
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	require.NotNil(t, adm.Denial)
	assert.Equal(t, "market_open", adm.Denial.Check)
	assert.Equal(t, 1, f.gateway.calls)
}

func TestOpenFromOpportunity_EmptyOrderIDIsFailure(t *testing.T) {
	f := newManagerFixture(riskParams())
	f.gateway.result = domain.OrderResult{OrderID: "", Status: domain.OrderStatusAccepted}

	_, _, err := f.mgr.OpenFromOpportunity(context.Background(), flipOpportunity("mkt-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAmbiguousOrder)

	open, _ := f.positions.ListOpen(context.Background())
	assert.Empty(t, open, "no position may exist after an ambiguous placement")
}

func TestOpenFromOpportunity_GatewayErrorPropagates(t *testing.T) {
	f := newManagerFixture(riskParams())
	f.gateway.err = errors.New("venue unavailable")

	_, _, err := f.mgr.OpenFromOpportunity(context.Background(), flipOpportunity("mkt-1"))
	require.Error(t, err)
	open, _ := f.positions.ListOpen(context.Background())
	assert.Empty(t, open)
}

func TestOpenFromOpportunity_ConcurrentAdmissionIsSerialized(t *testing.T) {
	params := riskParams()
	params.MaxPositions = 1
	f := newManagerFixture(params)

	var wg sync.WaitGroup
	results := make([]Admission, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, adm, err := f.mgr.OpenFromOpportunity(context.Background(), flipOpportunity("mkt-"+string(rune('a'+i))))
			results[i] = adm
			errs[i] = err
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	allowed := 0
	for _, adm := range results {
		if adm.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed, "exactly one of two concurrent openers may pass")

	open, _ := f.positions.ListOpen(context.Background())
	assert.Len(t, open, 1)
	assert.Equal(t, 1, f.gateway.calls)
}

func TestClosePosition_Manual(t *testing.T) {
	f := newManagerFixture(riskParams())
	pos, _, err := f.mgr.OpenFromOpportunity(context.Background(), flipOpportunity("mkt-1"))
	require.NoError(t, err)

	trade, err := f.mgr.ClosePosition(context.Background(), "mkt-1", 0.48)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, trade.Status)
	assert.Equal(t, "manual", trade.CloseReason)
	require.NotNil(t, trade.RealizedPnLEUR)
	assert.InDelta(t, (0.48-0.43)*75, *trade.RealizedPnLEUR, 0.01)

	_, err = f.positions.GetByMarket(context.Background(), "mkt-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := f.trades.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusClosed, stored.Status)
	assert.Equal(t, "manual", stored.CloseReason)
}

func TestClosePosition_SecondCloseDoesNotNotifyAgain(t *testing.T) {
	f := newManagerFixture(riskParams())
	pos, _, err := f.mgr.OpenFromOpportunity(context.Background(), flipOpportunity("mkt-1"))
	require.NoError(t, err)

	first, err := f.mgr.ClosePosition(context.Background(), "mkt-1", 0.48)
	require.NoError(t, err)

	// A leftover position row for an already-finalized trade. Closing it
	// again is cleanup: the row goes away, the earlier close record is
	// returned, and the operator is not told about the close a second time.
	require.NoError(t, f.positions.Create(context.Background(), pos))

	second, err := f.mgr.ClosePosition(context.Background(), "mkt-1", 0.30)
	require.NoError(t, err)
	require.NotNil(t, second.ExitPrice)
	assert.Equal(t, *first.ExitPrice, *second.ExitPrice)
	assert.Equal(t, first.CloseReason, second.CloseReason)

	_, err = f.positions.GetByMarket(context.Background(), "mkt-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	closedEvents := 0
	for _, event := range f.notifier.events {
		if event == "position_closed" {
			closedEvents++
		}
	}
	assert.Equal(t, 1, closedEvents)
}

func TestClosePosition_UnknownMarket(t *testing.T) {
	f := newManagerFixture(riskParams())
	_, err := f.mgr.ClosePosition(context.Background(), "mkt-missing", 0.50)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNotifierFailureDoesNotBlockOpen(t *testing.T) {
	f := newManagerFixture(riskParams())
	f.notifier.err = errors.New("telegram down")

	_, adm, err := f.mgr.OpenFromOpportunity(context.Background(), flipOpportunity("mkt-1"))
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
}
