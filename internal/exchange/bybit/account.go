package bybit

import (
	"context"

	"github.com/quanttide/breakout-bot/internal/errors"
)

// AccountReader reports current unified-account equity.
type AccountReader struct {
	client *Client
}

// NewAccountReader creates the equity collaborator.
func NewAccountReader(client *Client) *AccountReader {
	return &AccountReader{client: client}
}

// Equity returns total account equity in USD.
func (a *AccountReader) Equity(ctx context.Context) (float64, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}

	result, err := a.client.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return 0, errors.Categorize(err, "bybit", "get_account_wallet")
	}

	var wallet struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
		} `json:"list"`
	}
	if err := decodeResult(result, "get_account_wallet", &wallet); err != nil {
		return 0, err
	}
	if len(wallet.List) == 0 {
		return 0, errors.New(errors.CategoryTemporary, "bybit", "get_account_wallet", "no account data found")
	}

	equity := parseFloat64(wallet.List[0].TotalEquity)
	if equity <= 0 {
		return 0, errors.New(errors.CategoryTemporary, "bybit", "get_account_wallet", "account equity unavailable")
	}
	return equity, nil
}
