package risk

import "time"

// Side is the direction of a signal or position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Strategy identifies which detection strategy produced a signal. The set
// is closed: the core only ever depends on the common Signal shape.
type Strategy string

const (
	StrategyMomentum Strategy = "momentum"
	StrategyRetest   Strategy = "retest"
)

// Signal is a candidate trade produced by the signal collaborator. It is
// read-only input to the risk manager; the core never mutates it.
type Signal struct {
	Symbol         string                 `json:"symbol"`
	Side           Side                   `json:"side"`
	Entry          float64                `json:"entry"`
	StopLoss       float64                `json:"stop_loss"`
	TakeProfit1    float64                `json:"take_profit_1"`
	TakeProfit2    float64                `json:"take_profit_2"`
	Confidence     float64                `json:"confidence"`
	Strategy       Strategy               `json:"strategy"`
	BTCCorrelation float64                `json:"btc_correlation"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// PositionSize is the sizing outcome for one signal. When IsValid is
// false, Quantity is zero and InvalidReason is always populated.
type PositionSize struct {
	Quantity      float64 `json:"quantity"`
	NotionalUSD   float64 `json:"notional_usd"`
	RiskUSD       float64 `json:"risk_usd"`
	IsValid       bool    `json:"is_valid"`
	InvalidReason string  `json:"invalid_reason,omitempty"`
}

// RiskStatus is a snapshot of the portfolio risk limits, recomputed from
// current equity and positions on every evaluation. It is never trusted
// as cached state across restarts.
type RiskStatus struct {
	KillSwitchTriggered    bool    `json:"kill_switch_triggered"`
	KillSwitchReason       string  `json:"kill_switch_reason,omitempty"`
	DailyLossBreached      bool    `json:"daily_loss_breached"`
	DailyRiskUsedPct       float64 `json:"daily_risk_used_pct"`
	OpenPositionCount      int     `json:"open_position_count"`
	PortfolioHighWaterMark float64 `json:"portfolio_high_water_mark"`
	CorrelatedExposurePct  float64 `json:"correlated_exposure_pct"`
}

// RiskEvaluation is the outcome of evaluating one signal: either an
// approved position size or a machine-readable rejection reason, never
// an ambiguous result.
type RiskEvaluation struct {
	Approved     bool         `json:"approved"`
	Size         PositionSize `json:"size"`
	RejectReason string       `json:"reject_reason,omitempty"`
	SizeReduced  bool         `json:"size_reduced"`
}

// Position is a read-only view of an open position supplied by the
// position collaborator for exposure aggregation.
type Position struct {
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	Quantity       float64   `json:"quantity"`
	EntryPrice     float64   `json:"entry_price"`
	NotionalUSD    float64   `json:"notional_usd"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	BTCCorrelation float64   `json:"btc_correlation"`
	OpenedAt       time.Time `json:"opened_at"`
}

// MarketSnapshot carries the market data needed for one sizing decision.
type MarketSnapshot struct {
	Price float64 `json:"price"`
	// DepthUSD is the order-book liquidity available within the
	// configured band around mid-price, in quote currency.
	DepthUSD float64 `json:"depth_usd"`
	// QtyStep is the instrument's quantity precision step.
	QtyStep float64 `json:"qty_step"`
}

// Machine-readable rejection reasons.
const (
	ReasonKillSwitchActive    = "KillSwitchActive"
	ReasonDailyLimitBreached  = "DailyLimitBreached"
	ReasonMaxPositionsReached = "MaxPositionsReached"
	ReasonInvalidStopDistance = "InvalidStopDistance"
	ReasonBelowMinNotional    = "BelowMinNotional"
	ReasonCorrelationExceeded = "CorrelationExceeded"
)

// Correlation buckets used for exposure aggregation.
const (
	correlationHighBound   = 0.7
	correlationMediumBound = 0.3
)

// Config holds all risk limits. It is supplied already validated at
// construction time.
type Config struct {
	RiskPerTrade             float64 `json:"risk_per_trade"`
	MaxPositionSizeUSD       float64 `json:"max_position_size_usd"`
	MinNotionalUSD           float64 `json:"min_notional_usd"`
	MaxOpenPositions         int     `json:"max_open_positions"`
	DailyRiskLimit           float64 `json:"daily_risk_limit"`
	KillSwitchLossLimit      float64 `json:"kill_switch_loss_limit"`
	CorrelationLimit         float64 `json:"correlation_limit"`
	MaxCorrelatedExposurePct float64 `json:"max_correlated_exposure_pct"`
	DepthBandPct             float64 `json:"depth_band_pct"`
	DepthUtilization         float64 `json:"depth_utilization"`
	DeescalationThreshold    float64 `json:"deescalation_threshold"`
	DeescalationFactor       float64 `json:"deescalation_factor"`
	EquityJumpResetPct       float64 `json:"equity_jump_reset_pct"`
}

// DefaultConfig returns conservative production defaults.
func DefaultConfig() Config {
	return Config{
		RiskPerTrade:             0.006,
		MaxPositionSizeUSD:       2000,
		MinNotionalUSD:           10,
		MaxOpenPositions:         5,
		DailyRiskLimit:           0.05,
		KillSwitchLossLimit:      0.15,
		CorrelationLimit:         0.7,
		MaxCorrelatedExposurePct: 0.60,
		DepthBandPct:             0.003,
		DepthUtilization:         0.80,
		DeescalationThreshold:    0.80,
		DeescalationFactor:       0.50,
		EquityJumpResetPct:       0.10,
	}
}
