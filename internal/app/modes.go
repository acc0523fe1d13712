package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/flipbot/internal/feed"
	"github.com/quantfold/flipbot/internal/report"
	"github.com/quantfold/flipbot/internal/risk"
	"github.com/quantfold/flipbot/internal/scanner"
)

// ScanMode runs a single scan cycle and prints the ranked opportunities to
// stdout. Nothing is persisted and no orders are placed.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	sc := scanner.New(deps.Source, deps.Params, a.cfg.Scanner.MarketLimit, a.logger)
	opps, stats, err := sc.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}

	report.NewWriter(os.Stdout).PrintScan(opps, stats)
	return nil
}

// statusReadoutLimit caps how many recent trades and audit entries the status
// readout prints.
const statusReadoutLimit = 20

// StatusMode prints a one-shot account readout and exits: the open book with
// the latest cached prices, recent trade history, and the tail of the audit
// log.
func (a *App) StatusMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting status mode")
	return a.statusReport(ctx, deps, os.Stdout)
}

func (a *App) statusReport(ctx context.Context, deps *Dependencies, out io.Writer) error {
	open, err := deps.PositionStore.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("status mode: list positions: %w", err)
	}

	marketIDs := make([]string, 0, len(open))
	for _, pos := range open {
		marketIDs = append(marketIDs, pos.MarketID)
	}
	prices, err := deps.PriceCache.GetPrices(ctx, marketIDs)
	if err != nil {
		// The readout still works without prices, the Last column goes blank.
		a.logger.WarnContext(ctx, "price cache read failed", slog.Any("error", err))
		prices = nil
	}

	trades, err := deps.TradeStore.ListRecent(ctx, statusReadoutLimit)
	if err != nil {
		return fmt.Errorf("status mode: list trades: %w", err)
	}
	audit, err := deps.AuditStore.List(ctx, statusReadoutLimit)
	if err != nil {
		return fmt.Errorf("status mode: list audit log: %w", err)
	}

	w := report.NewWriter(out)
	w.PrintPositions(open, prices)
	w.PrintTrades(trades)
	w.PrintAudit(audit)
	return nil
}

// TradeMode runs the full loop: periodic scans that can open positions, the
// position monitor, the price feed, and the trade archiver when configured.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Bool("auto_execute", a.cfg.Scanner.AutoExecute),
	)

	g, ctx := errgroup.WithContext(ctx)

	mgr := a.startMonitoring(ctx, g, deps)

	sc := scanner.New(deps.Source, deps.Params, a.cfg.Scanner.MarketLimit, a.logger)
	g.Go(func() error {
		return a.scanLoop(ctx, sc, mgr)
	})

	return g.Wait()
}

// MonitorMode manages existing positions only: the monitor loop and price feed
// run, stop losses and take profits still fire, but no scanning happens and no
// new positions are opened.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startMonitoring(ctx, g, deps)
	return g.Wait()
}

// startMonitoring builds the risk manager, monitor loop, price feed, and
// archiver, registering their goroutines on g. The manager is returned so
// trade mode can route scan results through it.
func (a *App) startMonitoring(ctx context.Context, g *errgroup.Group, deps *Dependencies) *risk.Manager {
	mgr := risk.NewManager(
		deps.PositionStore, deps.TradeStore, deps.Gateway, deps.LockManager,
		deps.Params, deps.AuditStore, deps.Notifier, a.logger,
	)
	monitor := risk.NewMonitor(
		mgr, deps.PositionStore, deps.Source, deps.PriceCache,
		a.cfg.Monitor.Interval.Duration, a.cfg.Monitor.FetchTimeout.Duration,
		a.logger,
	)

	g.Go(func() error {
		return monitor.Run(ctx)
	})

	var priceFeed feed.PriceFeed
	if a.cfg.Monitor.UseWebsocket && a.cfg.Exchange.WSURL != "" {
		priceFeed = feed.NewWSFeed(
			a.cfg.Exchange.WSURL, deps.PositionStore, deps.PriceCache,
			monitor.HandlePriceUpdate, a.logger,
		)
	} else {
		priceFeed = feed.NewPollFeed(
			deps.PositionStore, deps.Source, deps.PriceCache,
			monitor.HandlePriceUpdate, a.cfg.Monitor.PollInterval.Duration,
			a.logger,
		)
	}
	g.Go(func() error {
		return priceFeed.Run(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx)
		})
	}

	return mgr
}

// scanLoop scans immediately and then on the configured interval. With
// auto-execute on, the best non-SKIP opportunity of each cycle is routed
// through risk admission; a denial ends the cycle, the next scan retries.
func (a *App) scanLoop(ctx context.Context, sc *scanner.Scanner, mgr *risk.Manager) error {
	runOnce := func() {
		opps, stats, err := sc.Scan(ctx)
		if err != nil {
			a.logger.ErrorContext(ctx, "scan cycle failed", slog.Any("error", err))
			return
		}
		a.logger.InfoContext(ctx, "scan cycle complete",
			slog.Int("scanned", stats.Scanned),
			slog.Int("eligible", stats.Eligible),
			slog.Int("opportunities", len(opps)),
		)

		if !a.cfg.Scanner.AutoExecute {
			return
		}
		best, ok := scanner.Best(opps)
		if !ok {
			return
		}

		pos, admission, err := mgr.OpenFromOpportunity(ctx, best)
		if err != nil {
			a.logger.ErrorContext(ctx, "open from scan failed",
				slog.String("market_id", best.MarketID),
				slog.Any("error", err),
			)
			return
		}
		if !admission.Allowed {
			a.logger.InfoContext(ctx, "scan candidate denied",
				slog.String("market_id", best.MarketID),
				slog.String("check", admission.Denial.Check),
				slog.String("reason", admission.Denial.Message),
			)
			return
		}
		a.logger.InfoContext(ctx, "position opened from scan",
			slog.String("position_id", pos.ID),
			slog.String("market_id", pos.MarketID),
			slog.String("strategy", string(pos.Strategy)),
		)
	}

	runOnce()
	ticker := time.NewTicker(a.cfg.Scanner.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			runOnce()
		}
	}
}
