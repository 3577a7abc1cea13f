package bybit

import (
	"context"
	"time"

	"github.com/quanttide/breakout-bot/internal/errors"
	"github.com/quanttide/breakout-bot/internal/orchestrator"
	"github.com/quanttide/breakout-bot/internal/risk"
)

// Executor submits approved entries as market orders with take profit
// and stop loss attached server-side, so a crashed process cannot leave
// an unprotected position.
type Executor struct {
	client *Client
}

// NewExecutor creates the execution collaborator.
func NewExecutor(client *Client) *Executor {
	return &Executor{client: client}
}

// Execute places a market order for the sized signal.
func (e *Executor) Execute(ctx context.Context, sig risk.Signal, size risk.PositionSize) (*orchestrator.Order, error) {
	side := "Buy"
	if sig.Side == risk.SideShort {
		side = "Sell"
	}

	params := map[string]interface{}{
		"category":  e.client.category,
		"symbol":    sig.Symbol,
		"side":      side,
		"orderType": "Market",
		"qty":       formatQty(size.Quantity),
	}
	if sig.TakeProfit1 > 0 {
		params["takeProfit"] = formatPrice(sig.TakeProfit1)
	}
	if sig.StopLoss > 0 {
		params["stopLoss"] = formatPrice(sig.StopLoss)
	}

	result, err := e.client.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return nil, errors.Categorize(err, "bybit", "place_order")
	}

	var placed struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := decodeResult(result, "place_order", &placed); err != nil {
		return nil, err
	}
	if placed.OrderID == "" {
		return nil, errors.New(errors.CategoryExecution, "bybit", "place_order", "order rejected without id").
			WithRetryable(false)
	}

	return &orchestrator.Order{
		OrderID:   placed.OrderID,
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Quantity:  size.Quantity,
		Price:     sig.Entry,
		CreatedAt: time.Now(),
	}, nil
}
