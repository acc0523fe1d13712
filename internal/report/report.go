// Package report renders scan results for the terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/quantfold/flipbot/internal/domain"
	"github.com/quantfold/flipbot/internal/scanner"
)

// Writer renders ranked opportunities and filter statistics.
type Writer struct {
	out io.Writer
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// PrintScan prints the ranked opportunity table followed by a filter summary.
func (w *Writer) PrintScan(opps []domain.Opportunity, stats scanner.FilterStats) {
	if len(opps) == 0 {
		fmt.Fprintln(w.out, "\nNo eligible markets this scan.")
		w.printStats(stats)
		return
	}

	table := tablewriter.NewWriter(w.out)
	table.Header("#", "Market", "Cat", "Price", "Spread", "Days", "HVS", "FlipEV", "Action", "Side", "Conf")

	for i, opp := range opps {
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(opp.MarketName, 36),
			opp.Category,
			fmt.Sprintf("%.3f", opp.EntryPrice),
			fmt.Sprintf("%.1f%%", opp.Spread*100),
			fmt.Sprintf("%.0f", opp.DaysToResolution),
			fmt.Sprintf("%.2f", opp.HVS),
			fmt.Sprintf("%.2f", opp.FlipEV),
			string(opp.Action),
			string(opp.Side),
			string(opp.Confidence),
		)
	}
	table.Render()

	w.printStats(stats)
}

func (w *Writer) printStats(stats scanner.FilterStats) {
	fmt.Fprintf(w.out, "\nScanned %d markets, %d eligible.\n", stats.Scanned, stats.Eligible)
	fmt.Fprintf(w.out, "Dropped: liquidity %d, spread %d, days %d, category %d+%d, quotes %d.\n",
		stats.LowLiquidity, stats.SpreadOutOfRange, stats.DaysOutOfRange,
		stats.CategoryExcluded, stats.CategoryNotPreferred, stats.InvalidQuotes)
}

// PrintPositions prints the open book. prices carries the latest cached price
// per market; a market without a cached price renders as "-".
func (w *Writer) PrintPositions(positions []domain.Position, prices map[string]float64) {
	fmt.Fprintln(w.out, "\nOpen positions:")
	if len(positions) == 0 {
		fmt.Fprintln(w.out, "  none")
		return
	}

	table := tablewriter.NewWriter(w.out)
	table.Header("#", "Market", "Side", "Strategy", "Entry", "Last", "Size", "Stop", "TP", "Opened")

	for i, pos := range positions {
		last := "-"
		if p, ok := prices[pos.MarketID]; ok {
			last = fmt.Sprintf("%.3f", p)
		}
		tp := "-"
		if pos.TakeProfit != nil {
			tp = fmt.Sprintf("%.3f", *pos.TakeProfit)
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(pos.MarketName, 36),
			string(pos.Side),
			string(pos.Strategy),
			fmt.Sprintf("%.3f", pos.EntryPrice),
			last,
			fmt.Sprintf("%.2f", pos.SizeEUR),
			fmt.Sprintf("%.3f", pos.StopLoss),
			tp,
			pos.OpenedAt.Format("2006-01-02 15:04"),
		)
	}
	table.Render()
}

// PrintTrades prints recent trade history, newest first.
func (w *Writer) PrintTrades(trades []domain.Trade) {
	fmt.Fprintln(w.out, "\nRecent trades:")
	if len(trades) == 0 {
		fmt.Fprintln(w.out, "  none")
		return
	}

	table := tablewriter.NewWriter(w.out)
	table.Header("Market", "Side", "Strategy", "Entry", "Exit", "Size", "PnL", "Status", "Reason")

	for _, tr := range trades {
		exit, pnl := "-", "-"
		if tr.ExitPrice != nil {
			exit = fmt.Sprintf("%.3f", *tr.ExitPrice)
		}
		if tr.RealizedPnLEUR != nil {
			pnl = fmt.Sprintf("%.2f", *tr.RealizedPnLEUR)
		}
		table.Append(
			truncate(tr.MarketName, 36),
			string(tr.Side),
			string(tr.Strategy),
			fmt.Sprintf("%.3f", tr.EntryPrice),
			exit,
			fmt.Sprintf("%.2f", tr.SizeEUR),
			pnl,
			string(tr.Status),
			tr.CloseReason,
		)
	}
	table.Render()
}

// PrintAudit prints the tail of the audit log.
func (w *Writer) PrintAudit(entries []domain.AuditEntry) {
	fmt.Fprintln(w.out, "\nAudit log:")
	if len(entries) == 0 {
		fmt.Fprintln(w.out, "  empty")
		return
	}

	table := tablewriter.NewWriter(w.out)
	table.Header("Time", "Event", "Detail")

	for _, e := range entries {
		table.Append(
			e.CreatedAt.Format(time.RFC3339),
			e.Event,
			truncate(formatDetail(e.Detail), 64),
		)
	}
	table.Render()
}

// formatDetail flattens an audit detail map into "k=v" pairs in key order so
// output is stable.
func formatDetail(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, detail[k]))
	}
	return strings.Join(parts, " ")
}

// truncate shortens s to at most max runes. Slicing bytes would split a
// multi-byte rune in market names that carry accents or symbols.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
