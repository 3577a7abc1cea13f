package risk

import (
	"math"
	"time"
)

// DailyTracker anchors the daily loss limit to the equity observed at the
// start of the trading day. The anchor resets when the calendar day rolls
// over, when equity rises above the anchor (profit snapshot or deposit),
// or when equity moves more than the configured percentage in either
// direction versus the anchor. The reset policy prevents false
// kill-switch triggers after deposits or restarts.
type DailyTracker struct {
	startEquity  float64
	startTime    time.Time
	jumpResetPct float64
}

// NewDailyTracker creates a tracker with the given jump-reset threshold.
func NewDailyTracker(jumpResetPct float64) *DailyTracker {
	return &DailyTracker{jumpResetPct: jumpResetPct}
}

// Observe feeds the current equity into the tracker, applying the reset
// policy. It must be called before RiskUsedPct on every evaluation.
func (t *DailyTracker) Observe(equity float64, now time.Time) {
	if t.startEquity <= 0 {
		t.reset(equity, now)
		return
	}

	if !sameDay(t.startTime, now) {
		t.reset(equity, now)
		return
	}

	if equity > t.startEquity {
		t.reset(equity, now)
		return
	}

	jump := math.Abs(equity-t.startEquity) / t.startEquity
	if jump > t.jumpResetPct {
		t.reset(equity, now)
	}
}

func (t *DailyTracker) reset(equity float64, now time.Time) {
	t.startEquity = equity
	t.startTime = now
}

// RiskUsedPct returns the fraction of daily start equity lost so far,
// clamped at zero while equity is at or above the anchor.
func (t *DailyTracker) RiskUsedPct(equity float64) float64 {
	if t.startEquity <= 0 {
		return 0
	}
	pnl := equity - t.startEquity
	if pnl >= 0 {
		return 0
	}
	return -pnl / t.startEquity
}

// StartEquity returns the current anchor equity.
func (t *DailyTracker) StartEquity() float64 {
	return t.startEquity
}

// StartTime returns when the current anchor was set.
func (t *DailyTracker) StartTime() time.Time {
	return t.startTime
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
