package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/quanttide/breakout-bot/internal/errors"
)

// Config holds the Bybit connection settings.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool
	Category  string
}

// Client wraps the Bybit unified-trading API client.
type Client struct {
	httpClient *bybit_api.Client
	category   string
	testnet    bool
	demo       bool
}

// NewClient creates a Bybit client for the configured environment.
func NewClient(cfg Config) *Client {
	var baseURL string
	if cfg.Demo {
		// Demo trading environment (paper trading)
		baseURL = "https://api-demo.bybit.com"
	} else if cfg.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		cfg.APIKey,
		cfg.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	category := cfg.Category
	if category == "" {
		category = "linear"
	}

	return &Client{
		httpClient: httpClient,
		category:   category,
		testnet:    cfg.Testnet,
		demo:       cfg.Demo,
	}
}

// Environment describes which Bybit environment the client talks to.
func (c *Client) Environment() string {
	switch {
	case c.demo:
		return "demo"
	case c.testnet:
		return "testnet"
	default:
		return "mainnet"
	}
}

// decodeResult unmarshals a ServerResponse result payload into out,
// surfacing API-level errors with their Bybit retCode.
func decodeResult(response interface{}, operation string, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return errors.New(errors.CategoryTemporary, "bybit", operation, "invalid response type")
	}
	if serverResp.RetCode != 0 {
		return errors.Categorize(
			fmt.Errorf("API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode),
			"bybit", operation)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return errors.Wrap(err, errors.CategoryTemporary, "bybit", operation)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return errors.Wrap(err, errors.CategoryTemporary, "bybit", operation)
	}
	return nil
}

func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func formatQty(qty float64) string {
	return strconv.FormatFloat(qty, 'f', -1, 64)
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}
