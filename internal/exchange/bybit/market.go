package bybit

import (
	"context"
	"sync"
	"time"

	"github.com/quanttide/breakout-bot/internal/errors"
	"github.com/quanttide/breakout-bot/internal/risk"
)

// instrumentTTL bounds how long quantity steps are cached. Instrument
// filters change rarely; re-fetching every sizing call would burn the
// rate budget.
const instrumentTTL = time.Hour

// MarketData supplies price, depth and precision snapshots for sizing.
type MarketData struct {
	client *Client
	// DepthBandPct is the band around mid-price whose resting liquidity
	// counts toward the depth cap.
	depthBandPct float64

	mu           sync.Mutex
	steps        map[string]float64
	stepsFetched time.Time
}

// NewMarketData creates the market-data collaborator.
func NewMarketData(client *Client, depthBandPct float64) *MarketData {
	if depthBandPct <= 0 {
		depthBandPct = 0.003
	}
	return &MarketData{
		client:       client,
		depthBandPct: depthBandPct,
		steps:        make(map[string]float64),
	}
}

// Snapshot fetches the last price, the order-book depth within the
// configured band, and the instrument quantity step for one symbol.
func (m *MarketData) Snapshot(ctx context.Context, symbol string) (risk.MarketSnapshot, error) {
	price, err := m.lastPrice(ctx, symbol)
	if err != nil {
		return risk.MarketSnapshot{}, err
	}

	depthUSD, err := m.bandDepthUSD(ctx, symbol, price)
	if err != nil {
		return risk.MarketSnapshot{}, err
	}

	step, err := m.qtyStep(ctx, symbol)
	if err != nil {
		return risk.MarketSnapshot{}, err
	}

	return risk.MarketSnapshot{
		Price:    price,
		DepthUSD: depthUSD,
		QtyStep:  step,
	}, nil
}

func (m *MarketData) lastPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]interface{}{
		"category": m.client.category,
		"symbol":   symbol,
	}

	result, err := m.client.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return 0, errors.Categorize(err, "bybit", "get_tickers")
	}

	var tickers struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := decodeResult(result, "get_tickers", &tickers); err != nil {
		return 0, err
	}
	if len(tickers.List) == 0 {
		return 0, errors.New(errors.CategoryTemporary, "bybit", "get_tickers", "no ticker data for "+symbol)
	}
	return parseFloat64(tickers.List[0].LastPrice), nil
}

// bandDepthUSD sums resting bid and ask notional within the band around
// the last price and returns the thinner side. Market impact is bounded
// by the side the entry would consume.
func (m *MarketData) bandDepthUSD(ctx context.Context, symbol string, price float64) (float64, error) {
	params := map[string]interface{}{
		"category": m.client.category,
		"symbol":   symbol,
		"limit":    50,
	}

	result, err := m.client.httpClient.NewUtaBybitServiceWithParams(params).GetOrderBookInfo(ctx)
	if err != nil {
		return 0, errors.Categorize(err, "bybit", "get_order_book")
	}

	var book struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
	}
	if err := decodeResult(result, "get_order_book", &book); err != nil {
		return 0, err
	}

	lower := price * (1 - m.depthBandPct)
	upper := price * (1 + m.depthBandPct)

	var bidUSD, askUSD float64
	for _, lvl := range book.Bids {
		if len(lvl) < 2 {
			continue
		}
		p := parseFloat64(lvl[0])
		if p < lower {
			break
		}
		bidUSD += p * parseFloat64(lvl[1])
	}
	for _, lvl := range book.Asks {
		if len(lvl) < 2 {
			continue
		}
		p := parseFloat64(lvl[0])
		if p > upper {
			break
		}
		askUSD += p * parseFloat64(lvl[1])
	}

	if bidUSD < askUSD {
		return bidUSD, nil
	}
	return askUSD, nil
}

func (m *MarketData) qtyStep(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	if step, ok := m.steps[symbol]; ok && time.Since(m.stepsFetched) < instrumentTTL {
		m.mu.Unlock()
		return step, nil
	}
	m.mu.Unlock()

	params := map[string]interface{}{
		"category": m.client.category,
		"symbol":   symbol,
	}

	result, err := m.client.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return 0, errors.Categorize(err, "bybit", "get_instrument_info")
	}

	var info struct {
		List []struct {
			Symbol        string `json:"symbol"`
			LotSizeFilter struct {
				QtyStep     string `json:"qtyStep"`
				MinOrderQty string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := decodeResult(result, "get_instrument_info", &info); err != nil {
		return 0, err
	}
	if len(info.List) == 0 {
		return 0, errors.New(errors.CategoryTemporary, "bybit", "get_instrument_info", "no instrument data for "+symbol)
	}

	step := parseFloat64(info.List[0].LotSizeFilter.QtyStep)
	if step <= 0 {
		step = parseFloat64(info.List[0].LotSizeFilter.MinOrderQty)
	}

	m.mu.Lock()
	m.steps[symbol] = step
	m.stepsFetched = time.Now()
	m.mu.Unlock()

	return step, nil
}

// Klines returns recent candles for level construction, newest first as
// Bybit delivers them.
func (m *MarketData) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	params := map[string]interface{}{
		"category": m.client.category,
		"symbol":   symbol,
		"interval": interval,
		"limit":    limit,
	}

	result, err := m.client.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return nil, errors.Categorize(err, "bybit", "get_kline")
	}

	var klineResult struct {
		Symbol string     `json:"symbol"`
		List   [][]string `json:"list"`
	}
	if err := decodeResult(result, "get_kline", &klineResult); err != nil {
		return nil, err
	}

	var klines []Kline
	for _, item := range klineResult.List {
		if len(item) < 7 {
			continue
		}
		// Bybit kline format: [startTime, open, high, low, close, volume, turnover]
		klines = append(klines, Kline{
			StartTime: time.UnixMilli(int64(parseFloat64(item[0]))),
			Open:      parseFloat64(item[1]),
			High:      parseFloat64(item[2]),
			Low:       parseFloat64(item[3]),
			Close:     parseFloat64(item[4]),
			Volume:    parseFloat64(item[5]),
			Turnover:  parseFloat64(item[6]),
		})
	}
	return klines, nil
}

// Kline is one OHLCV candle.
type Kline struct {
	StartTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Turnover  float64
}
