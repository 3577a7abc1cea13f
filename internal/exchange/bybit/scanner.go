package bybit

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/quanttide/breakout-bot/internal/orchestrator"
	"github.com/quanttide/breakout-bot/internal/risk"
)

const (
	// scanInterval is the candle interval used for candidate scoring.
	scanInterval = "60"
	// levelInterval is the finer interval used for level construction.
	levelInterval = "15"

	scanLookback  = 48
	levelLookback = 96

	// breakoutProximityPct marks a candidate when price trades within
	// this fraction of the lookback extreme.
	breakoutProximityPct = 0.02

	// stopBufferPct pads the protective stop beyond the broken level.
	stopBufferPct = 0.005

	// retestBandPct: price still within this band of the broken level is
	// tagged as a retest entry rather than a momentum chase.
	retestBandPct = 0.002
)

// Scanner scores watched symbols for breakout setups: price compressing
// against the recent range extreme on rising turnover.
type Scanner struct {
	market       *MarketData
	symbols      []string
	correlations map[string]float64
	log          *zap.Logger
}

// NewScanner creates the scanning collaborator for a fixed watchlist.
func NewScanner(market *MarketData, symbols []string, correlations map[string]float64, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	if correlations == nil {
		correlations = make(map[string]float64)
	}
	return &Scanner{
		market:       market,
		symbols:      symbols,
		correlations: correlations,
		log:          log,
	}
}

// Scan returns the symbols currently pressing against a range extreme.
func (s *Scanner) Scan(ctx context.Context) ([]orchestrator.ScanResult, error) {
	var results []orchestrator.ScanResult

	for _, symbol := range s.symbols {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		klines, err := s.market.Klines(ctx, symbol, scanInterval, scanLookback)
		if err != nil {
			// One unreadable symbol must not sink the whole scan.
			s.log.Warn("scan skipping symbol", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if len(klines) < 10 {
			continue
		}

		score, ok := breakoutScore(klines)
		if !ok {
			continue
		}

		results = append(results, orchestrator.ScanResult{
			Symbol: symbol,
			Score:  score,
			Metadata: map[string]interface{}{
				"btc_correlation": s.correlations[symbol],
			},
		})
	}
	return results, nil
}

// breakoutScore rates how hard price presses the range extreme.
// Bybit returns candles newest first.
func breakoutScore(klines []Kline) (float64, bool) {
	last := klines[0]

	var high, low float64 = 0, math.MaxFloat64
	var turnover, recentTurnover float64
	for i, k := range klines {
		if k.High > high {
			high = k.High
		}
		if k.Low < low {
			low = k.Low
		}
		turnover += k.Turnover
		if i < 6 {
			recentTurnover += k.Turnover
		}
	}
	if high <= low || turnover <= 0 {
		return 0, false
	}

	nearHigh := (high - last.Close) / high
	nearLow := (last.Close - low) / last.Close
	proximity := math.Min(nearHigh, nearLow)
	if proximity > breakoutProximityPct {
		return 0, false
	}

	// Turnover concentration in the latest candles sharpens the score.
	avgShare := float64(6) / float64(len(klines))
	momentum := (recentTurnover / turnover) / avgShare
	score := (1 - proximity/breakoutProximityPct) * math.Min(momentum, 2) / 2
	return score, score > 0.1
}

// LevelBuilder attaches the range extremes a breakout must clear.
type LevelBuilder struct {
	market *MarketData
	log    *zap.Logger
}

// NewLevelBuilder creates the level-building collaborator.
func NewLevelBuilder(market *MarketData, log *zap.Logger) *LevelBuilder {
	if log == nil {
		log = zap.NewNop()
	}
	return &LevelBuilder{market: market, log: log}
}

// Build computes swing levels for each candidate on the finer interval.
func (b *LevelBuilder) Build(ctx context.Context, candidates []orchestrator.ScanResult) ([]orchestrator.ScanResult, error) {
	out := make([]orchestrator.ScanResult, 0, len(candidates))

	for _, c := range candidates {
		klines, err := b.market.Klines(ctx, c.Symbol, levelInterval, levelLookback)
		if err != nil {
			b.log.Warn("level build skipping symbol", zap.String("symbol", c.Symbol), zap.Error(err))
			continue
		}
		if len(klines) < 10 {
			continue
		}

		resistance, support := swingLevels(klines)
		c.Levels = []float64{support, resistance}
		out = append(out, c)
	}
	return out, nil
}

// swingLevels returns the dominant resistance and support over the
// lookback, excluding the still-forming candle.
func swingLevels(klines []Kline) (resistance, support float64) {
	support = math.MaxFloat64
	for _, k := range klines[1:] {
		if k.High > resistance {
			resistance = k.High
		}
		if k.Low < support {
			support = k.Low
		}
	}
	return resistance, support
}

// SignalGenerator converts level breaks into entry signals.
type SignalGenerator struct {
	market       *MarketData
	correlations map[string]float64
	log          *zap.Logger
}

// NewSignalGenerator creates the signal collaborator.
func NewSignalGenerator(market *MarketData, correlations map[string]float64, log *zap.Logger) *SignalGenerator {
	if log == nil {
		log = zap.NewNop()
	}
	if correlations == nil {
		correlations = make(map[string]float64)
	}
	return &SignalGenerator{market: market, correlations: correlations, log: log}
}

// GenerateSignals checks each prepared candidate for a confirmed level
// break and emits momentum entries with protective stops at the level.
func (g *SignalGenerator) GenerateSignals(ctx context.Context, candidates []orchestrator.ScanResult) ([]risk.Signal, error) {
	var signals []risk.Signal

	for _, c := range candidates {
		if len(c.Levels) < 2 {
			continue
		}
		support, resistance := c.Levels[0], c.Levels[1]

		price, err := g.market.lastPrice(ctx, c.Symbol)
		if err != nil {
			g.log.Warn("signal check skipping symbol", zap.String("symbol", c.Symbol), zap.Error(err))
			continue
		}

		var sig risk.Signal
		switch {
		case price > resistance:
			stop := resistance * (1 - stopBufferPct)
			r := price - stop
			sig = risk.Signal{
				Symbol:      c.Symbol,
				Side:        risk.SideLong,
				Entry:       price,
				StopLoss:    stop,
				TakeProfit1: price + 1.5*r,
				TakeProfit2: price + 3*r,
			}
		case price < support:
			stop := support * (1 + stopBufferPct)
			r := stop - price
			sig = risk.Signal{
				Symbol:      c.Symbol,
				Side:        risk.SideShort,
				Entry:       price,
				StopLoss:    stop,
				TakeProfit1: price - 1.5*r,
				TakeProfit2: price - 3*r,
			}
		default:
			continue
		}

		sig.Confidence = math.Min(c.Score, 1)
		sig.Strategy = classifyEntry(sig.Side, sig.Entry, support, resistance)
		sig.BTCCorrelation = g.correlations[c.Symbol]
		signals = append(signals, sig)
	}
	return signals, nil
}

// classifyEntry tags the entry: price hugging the broken level is a
// retest, price already extended past it is a momentum chase.
func classifyEntry(side risk.Side, entry, support, resistance float64) risk.Strategy {
	switch side {
	case risk.SideLong:
		if entry <= resistance*(1+retestBandPct) {
			return risk.StrategyRetest
		}
	case risk.SideShort:
		if entry >= support*(1-retestBandPct) {
			return risk.StrategyRetest
		}
	}
	return risk.StrategyMomentum
}
