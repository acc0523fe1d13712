package predx

import (
	"fmt"
	"strconv"
	"time"

	"github.com/quantfold/flipbot/internal/domain"
)

// apiMarket is one market row off the wire.
type apiMarket struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Category  string `json:"category"`
	EndDate   string `json:"end_date"`
	Liquidity string `json:"liquidity"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Active    bool   `json:"active"`
}

type marketsResponse struct {
	Markets []apiMarket `json:"markets"`
}

type priceResponse struct {
	MarketID string `json:"market_id"`
	Price    string `json:"price"`
}

type orderRequest struct {
	MarketID string `json:"market_id"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	SizeEUR  string `json:"size_eur"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	TxRef   string `json:"tx_ref"`
	Status  string `json:"status"`
}

// toSnapshot converts one wire market into the domain shape. A malformed
// numeric field or end date is a hard error; bad upstream data must surface,
// not pass as zeros.
func (m apiMarket) toSnapshot() (domain.MarketSnapshot, error) {
	endDate, err := time.Parse(time.RFC3339, m.EndDate)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market %s: parse end_date %q: %w", m.ID, m.EndDate, err)
	}
	liquidity, err := parseDecimal(m.Liquidity, "liquidity", m.ID)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	bid, err := parseDecimal(m.BestBid, "best_bid", m.ID)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	ask, err := parseDecimal(m.BestAsk, "best_ask", m.ID)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	return domain.MarketSnapshot{
		ID:           m.ID,
		Name:         m.Question,
		Category:     m.Category,
		ResolvesAt:   endDate,
		LiquidityUSD: liquidity,
		BestBid:      bid,
		BestAsk:      ask,
	}, nil
}

func parseDecimal(s, field, marketID string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("market %s: parse %s %q: %w", marketID, field, s, err)
	}
	return v, nil
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
