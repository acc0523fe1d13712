// Package scanner pulls market snapshots from the data source, applies the
// eligibility filters, runs the decision engine per market and ranks the
// results.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/quantfold/flipbot/internal/decision"
	"github.com/quantfold/flipbot/internal/domain"
)

// FilterStats counts how many markets each filter dropped during one scan
// cycle. The counts are surfaced for diagnostics; a spike in InvalidQuotes
// usually means the upstream book is degraded.
type FilterStats struct {
	Scanned              int
	LowLiquidity         int
	SpreadOutOfRange     int
	DaysOutOfRange       int
	CategoryExcluded     int
	CategoryNotPreferred int
	InvalidQuotes        int
	Eligible             int
}

// Scanner produces ranked opportunities from live market data.
type Scanner struct {
	source domain.MarketDataSource
	params domain.ParamsProvider
	limit  int
	logger *slog.Logger
}

// New creates a Scanner. limit caps how many markets are requested from the
// data source per cycle.
func New(source domain.MarketDataSource, params domain.ParamsProvider, limit int, logger *slog.Logger) *Scanner {
	return &Scanner{
		source: source,
		params: params,
		limit:  limit,
		logger: logger.With(slog.String("component", "scanner")),
	}
}

// Scan fetches all open markets, filters them, scores the survivors and
// returns them ranked. A data source failure is fatal to the whole cycle and
// propagates; there is no partial scan.
func (s *Scanner) Scan(ctx context.Context) ([]domain.Opportunity, FilterStats, error) {
	params := s.params.Current()

	snaps, err := s.source.ListOpenMarkets(ctx, s.limit)
	if err != nil {
		return nil, FilterStats{}, fmt.Errorf("scanner: list open markets: %w", err)
	}

	now := time.Now().UTC()
	stats := FilterStats{Scanned: len(snaps)}

	opps := make([]domain.Opportunity, 0, len(snaps))
	for _, snap := range snaps {
		if !s.eligible(snap, params, now, &stats) {
			continue
		}
		stats.Eligible++
		opps = append(opps, s.score(snap, params, now))
	}

	rank(opps)

	s.logger.DebugContext(ctx, "scan cycle complete",
		slog.Int("scanned", stats.Scanned),
		slog.Int("eligible", stats.Eligible),
		slog.Int("invalid_quotes", stats.InvalidQuotes),
	)
	return opps, stats, nil
}

// eligible applies the filters in fixed order, short-circuiting on the first
// failure and incrementing the matching counter.
func (s *Scanner) eligible(snap domain.MarketSnapshot, params domain.RiskParameters, now time.Time, stats *FilterStats) bool {
	f := params.Filters

	if snap.LiquidityUSD < f.MinLiquidityUSD {
		stats.LowLiquidity++
		return false
	}
	spread := snap.Spread()
	if spread < f.MinSpread || spread > f.MaxSpread {
		stats.SpreadOutOfRange++
		return false
	}
	days := snap.DaysToResolution(now)
	if days < f.MinDays || days > f.MaxDays {
		stats.DaysOutOfRange++
		return false
	}
	if f.Excluded(snap.Category) {
		stats.CategoryExcluded++
		return false
	}
	if !f.Preferred(snap.Category) {
		stats.CategoryNotPreferred++
		return false
	}
	if !validQuotes(snap) {
		stats.InvalidQuotes++
		return false
	}
	return true
}

// validQuotes checks that bid and ask are probabilities and the book is not
// crossed or empty.
func validQuotes(snap domain.MarketSnapshot) bool {
	if snap.BestBid < 0 || snap.BestBid > 1 {
		return false
	}
	if snap.BestAsk < 0 || snap.BestAsk > 1 {
		return false
	}
	return snap.BestBid < snap.BestAsk
}

// score runs the decision engine on one eligible market.
func (s *Scanner) score(snap domain.MarketSnapshot, params domain.RiskParameters, now time.Time) domain.Opportunity {
	entry := snap.MidPrice()
	spread := snap.Spread()
	days := snap.DaysToResolution(now)

	// The market price doubles as the win probability estimate.
	d := decision.Decide(params, params.MaxPositionSizeEUR, entry, entry, spread, days, snap.LiquidityUSD)

	return domain.Opportunity{
		MarketID:         snap.ID,
		MarketName:       snap.Name,
		Category:         snap.Category,
		EntryPrice:       entry,
		Spread:           spread,
		DaysToResolution: days,
		WinProbability:   entry,
		LiquidityUSD:     snap.LiquidityUSD,
		HVS:              d.HVS,
		FlipEV:           d.FlipEV,
		Action:           d.Action,
		Side:             decision.Side(d.Action, entry),
		Reasoning:        d.Reasoning,
		Confidence:       d.Confidence,
	}
}

// rank sorts SKIP entries last and non-SKIP entries by descending FlipEV.
// Favoring flip EV over hold value is deliberate: frequent small edges beat
// large infrequent ones for volume. The sort is stable so ties keep fetch
// order.
func rank(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		iSkip := opps[i].Action == domain.ActionSkip
		jSkip := opps[j].Action == domain.ActionSkip
		if iSkip != jSkip {
			return jSkip
		}
		if iSkip {
			return false
		}
		return opps[i].FlipEV > opps[j].FlipEV
	})
}

// Best returns the first non-SKIP opportunity of a ranked list, or false when
// everything was skipped.
func Best(opps []domain.Opportunity) (domain.Opportunity, bool) {
	for _, opp := range opps {
		if opp.Action != domain.ActionSkip {
			return opp, true
		}
	}
	return domain.Opportunity{}, false
}
