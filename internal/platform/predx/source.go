package predx

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/quantfold/flipbot/internal/domain"
)

// Source is the live market data source backed by the PredX REST API.
type Source struct {
	client *Client
}

var _ domain.MarketDataSource = (*Source)(nil)

func NewSource(client *Client) *Source {
	return &Source{client: client}
}

// ListOpenMarkets returns up to limit active markets. Any transport, decode
// or field conversion failure propagates; callers never see a partial list.
func (s *Source) ListOpenMarkets(ctx context.Context, limit int) ([]domain.MarketSnapshot, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("limit", strconv.Itoa(limit))

	var resp marketsResponse
	if err := s.client.get(ctx, "/v1/markets?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("predx: list markets: %w", err)
	}

	snaps := make([]domain.MarketSnapshot, 0, len(resp.Markets))
	for _, m := range resp.Markets {
		snap, err := m.toSnapshot()
		if err != nil {
			return nil, fmt.Errorf("predx: list markets: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// GetPrice returns the current mid price for one market.
func (s *Source) GetPrice(ctx context.Context, marketID string) (float64, error) {
	var resp priceResponse
	path := fmt.Sprintf("/v1/markets/%s/price", url.PathEscape(marketID))
	if err := s.client.get(ctx, path, &resp); err != nil {
		return 0, fmt.Errorf("predx: get price for %s: %w", marketID, err)
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("predx: get price for %s: parse %q: %w", marketID, resp.Price, err)
	}
	return price, nil
}
