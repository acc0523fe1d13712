package predx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quantfold/flipbot/internal/domain"
)

// Gateway submits real limit orders to the PredX order endpoint.
type Gateway struct {
	client *Client
	logger *slog.Logger
}

var _ domain.OrderGateway = (*Gateway)(nil)

func NewGateway(client *Client, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.With(slog.String("component", "predx_gateway")),
	}
}

func (g *Gateway) PlaceLimitOrder(ctx context.Context, marketID string, side domain.Side, price, sizeEUR float64) (domain.OrderResult, error) {
	req := orderRequest{
		MarketID: marketID,
		Side:     string(side),
		Price:    formatDecimal(price),
		SizeEUR:  formatDecimal(sizeEUR),
	}

	var resp orderResponse
	if err := g.client.post(ctx, "/v1/orders", req, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("predx: place order on %s: %w", marketID, err)
	}

	g.logger.InfoContext(ctx, "order placed",
		slog.String("market_id", marketID),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("size_eur", sizeEUR),
		slog.String("order_id", resp.OrderID),
		slog.String("status", resp.Status),
	)

	return domain.OrderResult{
		OrderID: resp.OrderID,
		TxRef:   resp.TxRef,
		Status:  domain.OrderStatus(resp.Status),
	}, nil
}

// SimulatedGateway fills every order instantly with a synthetic id and never
// touches the network. It backs dry runs and tests.
type SimulatedGateway struct {
	logger *slog.Logger
}

var _ domain.OrderGateway = (*SimulatedGateway)(nil)

func NewSimulatedGateway(logger *slog.Logger) *SimulatedGateway {
	return &SimulatedGateway{logger: logger.With(slog.String("component", "sim_gateway"))}
}

func (g *SimulatedGateway) PlaceLimitOrder(ctx context.Context, marketID string, side domain.Side, price, sizeEUR float64) (domain.OrderResult, error) {
	id := "sim-" + uuid.NewString()
	g.logger.InfoContext(ctx, "simulated order filled",
		slog.String("market_id", marketID),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("size_eur", sizeEUR),
		slog.String("order_id", id),
	)
	return domain.OrderResult{
		OrderID: id,
		TxRef:   "sim",
		Status:  domain.OrderStatusFilled,
	}, nil
}
