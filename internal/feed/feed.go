// Package feed delivers live prices to the price cache and the position
// monitor, either by polling the REST data source or over the exchange
// WebSocket.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quantfold/flipbot/internal/domain"
)

// fetchTimeout bounds each poll fetch. The data source contract does not
// promise its own deadline, and one hung market must not stall the tick.
const fetchTimeout = 5 * time.Second

// PriceHandler receives each delivered price. The monitor's HandlePriceUpdate
// is the production handler.
type PriceHandler func(ctx context.Context, marketID string, price float64) error

// PriceFeed pushes prices until its context is cancelled.
type PriceFeed interface {
	Run(ctx context.Context) error
}

// PollFeed fetches the price of every open position on a fixed interval. It
// is the fallback when the WebSocket feed is disabled.
type PollFeed struct {
	positions domain.PositionStore
	source    domain.MarketDataSource
	prices    domain.PriceCache
	onPrice   PriceHandler
	interval  time.Duration
	logger    *slog.Logger
}

var _ PriceFeed = (*PollFeed)(nil)

func NewPollFeed(positions domain.PositionStore, source domain.MarketDataSource, prices domain.PriceCache, onPrice PriceHandler, interval time.Duration, logger *slog.Logger) *PollFeed {
	return &PollFeed{
		positions: positions,
		source:    source,
		prices:    prices,
		onPrice:   onPrice,
		interval:  interval,
		logger:    logger.With(slog.String("component", "poll_feed")),
	}
}

// Run polls until ctx is cancelled. A failed tick is logged and the loop
// continues.
func (f *PollFeed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.InfoContext(ctx, "poll feed started", slog.Duration("interval", f.interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				f.logger.WarnContext(ctx, "poll tick failed", slog.Any("error", err))
			}
		}
	}
}

func (f *PollFeed) tick(ctx context.Context) error {
	open, err := f.positions.ListOpen(ctx)
	if err != nil {
		return err
	}
	for _, pos := range open {
		price, err := f.fetch(ctx, pos.MarketID)
		if err != nil {
			f.logger.WarnContext(ctx, "price poll failed",
				slog.String("market_id", pos.MarketID),
				slog.Any("error", err),
			)
			continue
		}
		f.deliver(ctx, pos.MarketID, price)
	}
	return nil
}

func (f *PollFeed) fetch(ctx context.Context, marketID string) (float64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	return f.source.GetPrice(fetchCtx, marketID)
}

func (f *PollFeed) deliver(ctx context.Context, marketID string, price float64) {
	if f.prices != nil {
		if err := f.prices.SetPrice(ctx, marketID, price, time.Now().UTC()); err != nil {
			f.logger.WarnContext(ctx, "price cache write failed",
				slog.String("market_id", marketID),
				slog.Any("error", err),
			)
		}
	}
	if f.onPrice != nil {
		if err := f.onPrice(ctx, marketID, price); err != nil {
			f.logger.WarnContext(ctx, "price handler failed",
				slog.String("market_id", marketID),
				slog.Any("error", err),
			)
		}
	}
}
