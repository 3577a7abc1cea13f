package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(DefaultConfig(), nil)
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return base }
	return m
}

func testSignal() Signal {
	return Signal{
		Symbol:      "SOLUSDT",
		Side:        SideLong,
		Entry:       100,
		StopLoss:    98,
		TakeProfit1: 104,
		TakeProfit2: 108,
		Confidence:  0.8,
		Strategy:    StrategyMomentum,
	}
}

func deepSnapshot() MarketSnapshot {
	return MarketSnapshot{Price: 100, DepthUSD: 1_000_000, QtyStep: 0.001}
}

// Scenario A from the sizing chain: $10k equity at 0.6% risk with a $2
// stop gives 30 units raw, capped to 20 by the $2,000 position limit.
func TestEvaluateSignalRisk_RMultipleSizingWithPositionCap(t *testing.T) {
	m := newTestManager(t)

	eval := m.EvaluateSignalRisk(testSignal(), 10000, deepSnapshot(), nil)

	require.True(t, eval.Approved, "reject reason: %s", eval.RejectReason)
	assert.InDelta(t, 20.0, eval.Size.Quantity, 1e-9)
	assert.InDelta(t, 2000.0, eval.Size.NotionalUSD, 1e-9)
	assert.InDelta(t, 40.0, eval.Size.RiskUSD, 1e-9)
	assert.False(t, eval.SizeReduced)
}

func TestEvaluateSignalRisk_UncappedWhenBelowPositionLimit(t *testing.T) {
	m := newTestManager(t)
	sig := testSignal()
	sig.StopLoss = 90 // $10 stop distance -> 6 units, well under the cap

	eval := m.EvaluateSignalRisk(sig, 10000, deepSnapshot(), nil)

	require.True(t, eval.Approved)
	assert.InDelta(t, 6.0, eval.Size.Quantity, 1e-9)
	assert.InDelta(t, 60.0, eval.Size.RiskUSD, 1e-9)
}

func TestEvaluateSignalRisk_InvalidStopDistance(t *testing.T) {
	m := newTestManager(t)
	sig := testSignal()
	sig.StopLoss = sig.Entry

	eval := m.EvaluateSignalRisk(sig, 10000, deepSnapshot(), nil)

	require.False(t, eval.Approved)
	assert.Equal(t, ReasonInvalidStopDistance, eval.RejectReason)
	assert.Equal(t, 0.0, eval.Size.Quantity)
}

func TestEvaluateSignalRisk_DepthCapReducesToHaircut(t *testing.T) {
	m := newTestManager(t)
	snap := deepSnapshot()
	snap.DepthUSD = 1000 // requested notional 2000 exceeds resting depth

	eval := m.EvaluateSignalRisk(testSignal(), 10000, snap, nil)

	require.True(t, eval.Approved)
	// 80% of $1000 depth at entry 100 -> 8 units.
	assert.InDelta(t, 8.0, eval.Size.Quantity, 1e-9)
	assert.InDelta(t, 800.0, eval.Size.NotionalUSD, 1e-9)
}

func TestEvaluateSignalRisk_QuantityRoundedToStep(t *testing.T) {
	m := newTestManager(t)
	sig := testSignal()
	sig.Entry = 97
	sig.StopLoss = 94 // raw qty 60/3 = 20, cap 2000/97 = 20.618... -> 20
	snap := deepSnapshot()
	snap.QtyStep = 0.1

	eval := m.EvaluateSignalRisk(sig, 10000, snap, nil)

	require.True(t, eval.Approved)
	assert.InDelta(t, 20.0, eval.Size.Quantity, 1e-9)
}

func TestEvaluateSignalRisk_BelowMinNotional(t *testing.T) {
	m := newTestManager(t)

	eval := m.EvaluateSignalRisk(testSignal(), 100, deepSnapshot(), nil)

	// $100 equity risks $0.60 -> 0.3 units -> $30 notional is fine, so
	// shrink further: wide stop forces a tiny quantity.
	sig := testSignal()
	sig.StopLoss = 10
	eval = m.EvaluateSignalRisk(sig, 100, deepSnapshot(), nil)

	require.False(t, eval.Approved)
	assert.Equal(t, ReasonBelowMinNotional, eval.RejectReason)
}

func TestEvaluateSignalRisk_MaxOpenPositions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOpenPositions = 2
	m := NewManager(cfg, nil)

	positions := []Position{
		{Symbol: "BTCUSDT", NotionalUSD: 1000},
		{Symbol: "ETHUSDT", NotionalUSD: 800},
	}

	eval := m.EvaluateSignalRisk(testSignal(), 10000, deepSnapshot(), positions)

	require.False(t, eval.Approved)
	assert.Equal(t, ReasonMaxPositionsReached, eval.RejectReason)
}

// Scenario B: equity 20% below the high-water mark trips the kill switch
// and every later evaluation is rejected until an explicit reset.
func TestKillSwitch_DrawdownTriggersAndLatches(t *testing.T) {
	m := newTestManager(t)

	status := m.CheckRiskLimits(10000, nil)
	require.False(t, status.KillSwitchTriggered)
	assert.Equal(t, 10000.0, status.PortfolioHighWaterMark)

	status = m.CheckRiskLimits(8000, nil)
	require.True(t, status.KillSwitchTriggered)

	// Latch: recovered equity does not clear it.
	status = m.CheckRiskLimits(11000, nil)
	assert.True(t, status.KillSwitchTriggered)

	eval := m.EvaluateSignalRisk(testSignal(), 11000, deepSnapshot(), nil)
	require.False(t, eval.Approved)
	assert.Equal(t, ReasonKillSwitchActive, eval.RejectReason)

	m.ResetKillSwitch()
	eval = m.EvaluateSignalRisk(testSignal(), 11000, deepSnapshot(), nil)
	assert.True(t, eval.Approved)
}

func TestKillSwitch_NoSpuriousTriggerBeforeProfit(t *testing.T) {
	// A fresh process that first observes depressed equity must not
	// treat history it never saw as drawdown.
	m := newTestManager(t)

	status := m.CheckRiskLimits(8000, nil)

	assert.False(t, status.KillSwitchTriggered)
	assert.Equal(t, 8000.0, status.PortfolioHighWaterMark)
}

// Scenario D: a 6% intraday loss against a 5% daily limit blocks new
// entries while existing positions keep being counted.
func TestDailyLossBreach_BlocksNewEntries(t *testing.T) {
	m := newTestManager(t)
	positions := []Position{{Symbol: "BTCUSDT", NotionalUSD: 500}}

	m.CheckRiskLimits(10000, positions)
	status := m.CheckRiskLimits(9400, positions)

	require.True(t, status.DailyLossBreached)
	assert.InDelta(t, 0.06, status.DailyRiskUsedPct, 1e-9)
	assert.False(t, status.KillSwitchTriggered, "6%% is below the 15%% kill threshold")
	assert.Equal(t, 1, status.OpenPositionCount)

	eval := m.EvaluateSignalRisk(testSignal(), 9400, deepSnapshot(), positions)
	require.False(t, eval.Approved)
	assert.Equal(t, ReasonDailyLimitBreached, eval.RejectReason)
}

func TestCheckRiskLimits_IdempotentForUnchangedInputs(t *testing.T) {
	m := newTestManager(t)
	positions := []Position{
		{Symbol: "BTCUSDT", NotionalUSD: 1000, BTCCorrelation: 1.0},
		{Symbol: "DOGEUSDT", NotionalUSD: 500, BTCCorrelation: 0.2},
	}

	m.CheckRiskLimits(10000, positions)
	first := m.CheckRiskLimits(9700, positions)
	second := m.CheckRiskLimits(9700, positions)

	assert.Equal(t, first, second)
}

func TestDailyReset_RecomputesToZeroAfterEquityJump(t *testing.T) {
	m := newTestManager(t)

	m.CheckRiskLimits(10000, nil)
	status := m.CheckRiskLimits(11500, nil) // +15% deposit

	assert.InDelta(t, 0, status.DailyRiskUsedPct, 1e-9)
	assert.False(t, status.DailyLossBreached)
}

func TestDeescalation_HalvesSizeNearDailyLimit(t *testing.T) {
	m := newTestManager(t)

	m.CheckRiskLimits(10000, nil)
	// 4.5% used: above the 80% de-escalation threshold of the 5% limit,
	// below the limit itself.
	eval := m.EvaluateSignalRisk(testSignal(), 9550, deepSnapshot(), nil)

	require.True(t, eval.Approved)
	assert.True(t, eval.SizeReduced)
	// Full size at equity 9550: r = 57.3, qty = 28.65, capped to 20 by
	// the $2,000 limit; halved to 10.
	assert.InDelta(t, 10.0, eval.Size.Quantity, 1e-9)
	assert.InDelta(t, 1000.0, eval.Size.NotionalUSD, 1e-9)
}

func TestCorrelationGate_RejectsWhenProjectedExposureTooHigh(t *testing.T) {
	m := newTestManager(t)
	sig := testSignal()
	sig.BTCCorrelation = 0.9

	positions := []Position{
		{Symbol: "BTCUSDT", NotionalUSD: 3000, BTCCorrelation: 0.95},
		{Symbol: "LINKUSDT", NotionalUSD: 1000, BTCCorrelation: 0.1},
	}

	// Projected: (3000 + 2000) / (4000 + 2000) = 83% > 60%.
	eval := m.EvaluateSignalRisk(sig, 10000, deepSnapshot(), positions)

	require.False(t, eval.Approved)
	assert.Equal(t, ReasonCorrelationExceeded, eval.RejectReason)
}

func TestCorrelationGate_AllowsLowCorrelationSignals(t *testing.T) {
	m := newTestManager(t)
	sig := testSignal()
	sig.BTCCorrelation = 0.4 // under the 0.7 limit: gate does not apply

	positions := []Position{
		{Symbol: "BTCUSDT", NotionalUSD: 5000, BTCCorrelation: 0.95},
	}

	eval := m.EvaluateSignalRisk(sig, 10000, deepSnapshot(), positions)
	assert.True(t, eval.Approved)
}

func TestCorrelatedExposure_BucketWeights(t *testing.T) {
	positions := []Position{
		{NotionalUSD: 1000, BTCCorrelation: 0.9},  // high: full weight
		{NotionalUSD: 1000, BTCCorrelation: 0.5},  // medium: half weight
		{NotionalUSD: 1000, BTCCorrelation: 0.1},  // low: excluded
		{NotionalUSD: 1000, BTCCorrelation: -0.8}, // sign-insensitive
	}

	assert.InDelta(t, 2500.0, correlatedNotional(positions), 1e-9)
	assert.InDelta(t, 0.625, correlatedExposurePct(positions), 1e-9)
}

func TestEvaluateSignalRisk_NeverAmbiguous(t *testing.T) {
	m := newTestManager(t)
	signals := []Signal{
		testSignal(),
		{Symbol: "X", Side: SideShort, Entry: 50, StopLoss: 50, Strategy: StrategyRetest},
		{Symbol: "Y", Side: SideLong, Entry: 0.5, StopLoss: 0.4999, Strategy: StrategyMomentum},
	}

	for _, sig := range signals {
		eval := m.EvaluateSignalRisk(sig, 10000, deepSnapshot(), nil)
		if eval.Approved {
			assert.Greater(t, eval.Size.Quantity, 0.0)
			assert.GreaterOrEqual(t, eval.Size.NotionalUSD, m.cfg.MinNotionalUSD)
		} else {
			assert.NotEmpty(t, eval.RejectReason)
			assert.Equal(t, 0.0, eval.Size.Quantity)
		}
	}
}

func TestKillSwitch_ExtremeSingleDayLossTriggers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyRiskLimit = 0.02 // 3x limit = 6%, under the 10% jump reset
	m := NewManager(cfg, nil)

	m.CheckRiskLimits(10000, nil)
	status := m.CheckRiskLimits(9300, nil) // 7% single-day loss

	assert.True(t, status.KillSwitchTriggered)
}
