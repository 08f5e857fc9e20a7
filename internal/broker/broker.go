// Package broker defines the market-data and order-execution boundary the
// decision core trades through.
package broker

import (
	"context"

	"automatic-succotash/internal/domain"
)

// MarketData supplies prices, history and option chains. GetLastPrice may
// return (0, nil) when no quote is available; callers fall back to history.
type MarketData interface {
	GetLastPrice(ctx context.Context, symbol string) (float64, error)
	GetHistory(ctx context.Context, symbol string, days int) ([]float64, error)
	GetOptionChain(ctx context.Context, symbol string) (map[string]any, error)
}

// Broker is MarketData plus account state and order placement.
type Broker interface {
	MarketData
	GetPortfolioSnapshot(ctx context.Context) (domain.PortfolioSnapshot, error)
	PlaceOrder(ctx context.Context, order domain.TradeOrder) (ExecutionResult, error)
}

// ExecutionResult reports what happened to one placed order.
type ExecutionResult struct {
	Order     domain.TradeOrder `json:"order"`
	Status    string            `json:"status"`
	FillPrice float64           `json:"fill_price"`
	Notional  float64           `json:"notional"`
	Message   string            `json:"message,omitempty"`
}

// Execution statuses.
const (
	StatusFilled   = "FILLED"
	StatusRejected = "REJECTED"
)
