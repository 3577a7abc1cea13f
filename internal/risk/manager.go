package risk

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Manager gates every capital-committing decision. It owns no
// authoritative portfolio state: equity and positions are supplied fresh
// on every call, so a process restart cannot reintroduce stale risk
// state. The only data it retains are the safety latches themselves
// (kill switch, high-water mark, daily anchor).
type Manager struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	tracker *DailyTracker
	// highWaterMark starts at 0, not current equity, so a restart below
	// a previous peak cannot trip the kill switch before any profit has
	// been observed in this process.
	highWaterMark    float64
	killSwitch       bool
	killSwitchReason string

	clock func() time.Time
}

// NewManager creates a risk manager with the given limits.
func NewManager(cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		log:     log,
		tracker: NewDailyTracker(cfg.EquityJumpResetPct),
		clock:   time.Now,
	}
}

// CheckRiskLimits recomputes the full risk status from the supplied
// equity and position snapshot. Calling it twice with unchanged inputs
// yields an identical status.
func (m *Manager) CheckRiskLimits(equity float64, positions []Position) RiskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkLimitsLocked(equity, positions)
}

func (m *Manager) checkLimitsLocked(equity float64, positions []Position) RiskStatus {
	now := m.clock()

	m.tracker.Observe(equity, now)
	dailyUsed := m.tracker.RiskUsedPct(equity)

	if equity > m.highWaterMark {
		m.highWaterMark = equity
	}

	drawdown := 0.0
	if m.highWaterMark > 0 {
		drawdown = math.Max(0, (m.highWaterMark-equity)/m.highWaterMark)
	}

	if !m.killSwitch {
		switch {
		case drawdown > m.cfg.KillSwitchLossLimit:
			m.latchKillSwitch("drawdown limit exceeded", drawdown)
		case dailyUsed > 3*m.cfg.DailyRiskLimit:
			m.latchKillSwitch("extreme single-day loss", dailyUsed)
		}
	}

	return RiskStatus{
		KillSwitchTriggered:    m.killSwitch,
		KillSwitchReason:       m.killSwitchReason,
		DailyLossBreached:      dailyUsed > m.cfg.DailyRiskLimit,
		DailyRiskUsedPct:       dailyUsed,
		OpenPositionCount:      len(positions),
		PortfolioHighWaterMark: m.highWaterMark,
		CorrelatedExposurePct:  correlatedExposurePct(positions),
	}
}

func (m *Manager) latchKillSwitch(reason string, value float64) {
	m.killSwitch = true
	m.killSwitchReason = reason
	m.log.Error("kill switch triggered",
		zap.String("trigger", reason),
		zap.Float64("value", value))
}

// KillSwitchTriggered reports whether the latch is set.
func (m *Manager) KillSwitchTriggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killSwitch
}

// ResetKillSwitch clears the latch. Only an explicit external command
// may call this; the latch never clears on its own.
func (m *Manager) ResetKillSwitch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitch = false
	m.killSwitchReason = ""
	m.log.Warn("kill switch manually reset")
}

// EvaluateSignalRisk validates and sizes one signal against current
// equity, market depth and open positions. Checks run in a fixed
// precedence: kill switch, daily limit, position count, sizing,
// correlation. The result is always either an approved size with
// positive quantity or a rejection with a machine-readable reason.
func (m *Manager) EvaluateSignalRisk(sig Signal, equity float64, snap MarketSnapshot, positions []Position) RiskEvaluation {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := m.checkLimitsLocked(equity, positions)

	if status.KillSwitchTriggered {
		return m.reject(sig, ReasonKillSwitchActive)
	}
	if status.DailyLossBreached {
		return m.reject(sig, ReasonDailyLimitBreached)
	}
	if m.cfg.MaxOpenPositions > 0 && status.OpenPositionCount >= m.cfg.MaxOpenPositions {
		return m.reject(sig, ReasonMaxPositionsReached)
	}

	size := m.sizePosition(sig, equity, snap)
	if !size.IsValid {
		return m.reject(sig, size.InvalidReason)
	}

	if m.correlationExceeded(sig, size, positions) {
		return m.reject(sig, ReasonCorrelationExceeded)
	}

	// De-escalation: near the daily limit, halve new sizes instead of
	// rejecting outright, so the limit is approached gradually.
	reduced := false
	if m.cfg.DailyRiskLimit > 0 && status.DailyRiskUsedPct >= m.cfg.DeescalationThreshold*m.cfg.DailyRiskLimit {
		size.Quantity *= m.cfg.DeescalationFactor
		size.NotionalUSD *= m.cfg.DeescalationFactor
		size.RiskUSD *= m.cfg.DeescalationFactor
		reduced = true
		if size.NotionalUSD < m.cfg.MinNotionalUSD {
			return m.reject(sig, ReasonBelowMinNotional)
		}
	}

	m.log.Info("signal approved",
		zap.String("symbol", sig.Symbol),
		zap.String("strategy", string(sig.Strategy)),
		zap.Float64("quantity", size.Quantity),
		zap.Float64("notional_usd", size.NotionalUSD),
		zap.Bool("size_reduced", reduced))

	return RiskEvaluation{Approved: true, Size: size, SizeReduced: reduced}
}

func (m *Manager) reject(sig Signal, reason string) RiskEvaluation {
	m.log.Info("signal rejected",
		zap.String("symbol", sig.Symbol),
		zap.String("strategy", string(sig.Strategy)),
		zap.String("reason", reason))
	return RiskEvaluation{
		Approved:     false,
		Size:         PositionSize{IsValid: false, InvalidReason: reason},
		RejectReason: reason,
	}
}

// sizePosition applies the R-multiple sizing chain: risk dollars from
// equity, raw quantity from stop distance, then the position-size cap,
// the order-book depth cap and precision rounding, with a minimum
// notional floor at the end.
func (m *Manager) sizePosition(sig Signal, equity float64, snap MarketSnapshot) PositionSize {
	stopDistance := math.Abs(sig.Entry - sig.StopLoss)
	if stopDistance <= 0 || sig.Entry <= 0 {
		return PositionSize{IsValid: false, InvalidReason: ReasonInvalidStopDistance}
	}

	rDollar := equity * m.cfg.RiskPerTrade
	qty := rDollar / stopDistance

	if m.cfg.MaxPositionSizeUSD > 0 {
		if maxQty := m.cfg.MaxPositionSizeUSD / sig.Entry; qty > maxQty {
			qty = maxQty
		}
	}

	// Depth cap: never demand more than the liquidity resting inside the
	// band; take a haircut of it to bound market impact.
	if snap.DepthUSD > 0 && qty*sig.Entry > snap.DepthUSD {
		qty = snap.DepthUSD * m.cfg.DepthUtilization / sig.Entry
	}

	qty = roundToStep(qty, snap.QtyStep)

	notional := qty * sig.Entry
	if notional < m.cfg.MinNotionalUSD {
		return PositionSize{IsValid: false, InvalidReason: ReasonBelowMinNotional}
	}

	return PositionSize{
		Quantity:    qty,
		NotionalUSD: notional,
		RiskUSD:     qty * stopDistance,
		IsValid:     true,
	}
}

// roundToStep rounds a quantity down to the instrument's precision step.
// Float division drifts at small steps, so the rounding runs on decimals.
func roundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	rounded, _ := q.Div(s).Floor().Mul(s).Float64()
	return rounded
}

// correlationExceeded applies the correlation gate: a highly
// BTC-correlated signal is rejected when the projected correlated
// exposure would exceed the configured share of total portfolio notional.
func (m *Manager) correlationExceeded(sig Signal, size PositionSize, positions []Position) bool {
	if math.Abs(sig.BTCCorrelation) <= m.cfg.CorrelationLimit {
		return false
	}

	correlated := correlatedNotional(positions) + size.NotionalUSD
	total := totalNotional(positions) + size.NotionalUSD
	if total <= 0 {
		return false
	}
	return correlated/total > m.cfg.MaxCorrelatedExposurePct
}

// correlatedNotional aggregates exposure by correlation bucket: the high
// bucket counts in full, the medium bucket at half weight, the low
// bucket not at all.
func correlatedNotional(positions []Position) float64 {
	var sum float64
	for _, p := range positions {
		corr := math.Abs(p.BTCCorrelation)
		switch {
		case corr > correlationHighBound:
			sum += p.NotionalUSD
		case corr >= correlationMediumBound:
			sum += p.NotionalUSD * 0.5
		}
	}
	return sum
}

func totalNotional(positions []Position) float64 {
	var sum float64
	for _, p := range positions {
		sum += p.NotionalUSD
	}
	return sum
}

func correlatedExposurePct(positions []Position) float64 {
	total := totalNotional(positions)
	if total <= 0 {
		return 0
	}
	return correlatedNotional(positions) / total
}
