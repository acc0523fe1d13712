package domain

import (
	"sync/atomic"
	"time"
)

// MarketFilters holds the eligibility criteria applied by the scanner before
// any scoring happens.
type MarketFilters struct {
	MinLiquidityUSD   float64
	MinSpread         float64
	MaxSpread         float64
	MinDays           float64
	MaxDays           float64
	ExcludeCategories []string
	// PreferCategories restricts scanning to the listed categories when
	// non-empty. An empty list allows every category not excluded.
	PreferCategories []string
}

// Excluded reports whether category is on the exclude list.
func (f MarketFilters) Excluded(category string) bool {
	for _, c := range f.ExcludeCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Preferred reports whether category passes the prefer list. An empty prefer
// list accepts everything.
func (f MarketFilters) Preferred(category string) bool {
	if len(f.PreferCategories) == 0 {
		return true
	}
	for _, c := range f.PreferCategories {
		if c == category {
			return true
		}
	}
	return false
}

// StrategyThresholds holds the tunables of the decision engine.
type StrategyThresholds struct {
	MinHVSForHold float64
	MinFlipEV     float64
	// DailyOpportunityCost is the per-euro per-day cost of locked capital
	// used in the hold value score.
	DailyOpportunityCost float64
}

// RiskParameters is the process-wide risk configuration. Instances are
// immutable: an administrative update produces a new struct version that is
// swapped in atomically and takes effect on the next scan or monitor tick,
// never retroactively.
type RiskParameters struct {
	Version int64

	MaxPositions             int
	MaxPositionSizeEUR       float64
	CapitalEUR               float64
	MaxTotalExposureFraction float64
	StopLossPercent          float64
	TakeProfitPercent        float64
	Cooldown                 time.Duration

	Thresholds StrategyThresholds
	Filters    MarketFilters

	UpdatedAt time.Time
}

// ParamsProvider yields the current risk parameter version. Readers call it
// once per tick so a concurrent administrative update can never expose a
// half-written configuration.
type ParamsProvider interface {
	Current() RiskParameters
}

// StaticParams is a ParamsProvider that always returns the same version.
// Useful for tests and one-shot scans.
type StaticParams struct {
	Params RiskParameters
}

// Current implements ParamsProvider.
func (s StaticParams) Current() RiskParameters { return s.Params }

// AtomicParams is a ParamsProvider whose value can be swapped at runtime.
// Readers always see a complete version, never a partial update.
type AtomicParams struct {
	v atomic.Pointer[RiskParameters]
}

// NewAtomicParams returns a provider initialized with p.
func NewAtomicParams(p RiskParameters) *AtomicParams {
	a := &AtomicParams{}
	a.v.Store(&p)
	return a
}

// Current implements ParamsProvider.
func (a *AtomicParams) Current() RiskParameters { return *a.v.Load() }

// Swap replaces the current version. In-flight ticks keep the version they
// loaded; the new one applies from the next tick.
func (a *AtomicParams) Swap(p RiskParameters) { a.v.Store(&p) }
