package bybit

import (
	"context"
	"time"

	"github.com/quanttide/breakout-bot/internal/errors"
	"github.com/quanttide/breakout-bot/internal/risk"
)

// PositionBook reads the open position set from the exchange. Positions
// are never cached: every call reflects the venue's current book, so a
// restart cannot resurrect stale exposure.
type PositionBook struct {
	client *Client
	// correlations maps symbol to its BTC correlation estimate, used by
	// the risk manager's exposure bucketing. Symbols without an entry
	// count as uncorrelated.
	correlations map[string]float64
}

// NewPositionBook creates the position collaborator.
func NewPositionBook(client *Client, correlations map[string]float64) *PositionBook {
	if correlations == nil {
		correlations = make(map[string]float64)
	}
	return &PositionBook{client: client, correlations: correlations}
}

// OpenPositions fetches all non-zero positions in the trading category.
func (p *PositionBook) OpenPositions(ctx context.Context) ([]risk.Position, error) {
	params := map[string]interface{}{
		"category":   p.client.category,
		"settleCoin": "USDT",
	}

	result, err := p.client.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	if err != nil {
		return nil, errors.Categorize(err, "bybit", "get_position_list")
	}

	var positionResult struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			PositionValue string `json:"positionValue"`
			EntryPrice    string `json:"entryPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			CreatedTime   string `json:"createdTime"`
		} `json:"list"`
	}
	if err := decodeResult(result, "get_position_list", &positionResult); err != nil {
		return nil, err
	}

	var positions []risk.Position
	for _, pos := range positionResult.List {
		qty := parseFloat64(pos.Size)
		if qty <= 0 {
			continue
		}

		side := risk.SideLong
		if pos.Side == "Sell" {
			side = risk.SideShort
		}

		positions = append(positions, risk.Position{
			Symbol:         pos.Symbol,
			Side:           side,
			Quantity:       qty,
			EntryPrice:     parseFloat64(pos.EntryPrice),
			NotionalUSD:    parseFloat64(pos.PositionValue),
			UnrealizedPnL:  parseFloat64(pos.UnrealisedPnl),
			BTCCorrelation: p.correlations[pos.Symbol],
			OpenedAt:       time.UnixMilli(int64(parseFloat64(pos.CreatedTime))),
		})
	}
	return positions, nil
}

// Refresh re-reads the book so mark-to-market values stay current. The
// exchange owns position state; there is nothing to write back.
func (p *PositionBook) Refresh(ctx context.Context) ([]risk.Position, error) {
	return p.OpenPositions(ctx)
}
