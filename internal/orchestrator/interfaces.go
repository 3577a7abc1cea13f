package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/quanttide/breakout-bot/internal/risk"
)

// ScanResult is one breakout candidate produced by the scanning collaborator.
// Levels are populated by the level builder before signal generation.
type ScanResult struct {
	Symbol   string                 `json:"symbol"`
	Score    float64                `json:"score"`
	Levels   []float64              `json:"levels,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Order is the execution collaborator's receipt for a submitted entry.
type Order struct {
	OrderID   string    `json:"orderId"`
	Symbol    string    `json:"symbol"`
	Side      risk.Side `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"createdAt"`
}

// Scanner finds breakout candidates across the watched markets.
type Scanner interface {
	Scan(ctx context.Context) ([]ScanResult, error)
}

// LevelBuilder converts raw scan candidates into candidates with
// actionable support/resistance levels.
type LevelBuilder interface {
	Build(ctx context.Context, candidates []ScanResult) ([]ScanResult, error)
}

// SignalGenerator watches prepared candidates and emits entry signals.
type SignalGenerator interface {
	GenerateSignals(ctx context.Context, candidates []ScanResult) ([]risk.Signal, error)
}

// Executor submits an approved, sized signal to the exchange.
type Executor interface {
	Execute(ctx context.Context, signal risk.Signal, size risk.PositionSize) (*Order, error)
}

// PositionBook owns the open position set. The orchestrator only reads
// it; Refresh returns the book with current mark-to-market values.
type PositionBook interface {
	OpenPositions(ctx context.Context) ([]risk.Position, error)
	Refresh(ctx context.Context) ([]risk.Position, error)
}

// MarketData supplies the price/depth snapshots risk sizing depends on.
type MarketData interface {
	Snapshot(ctx context.Context, symbol string) (risk.MarketSnapshot, error)
}

// AccountReader reports current account equity.
type AccountReader interface {
	Equity(ctx context.Context) (float64, error)
}

// Collaborators bundles every external dependency the trading cycle
// drives. All fields are required.
type Collaborators struct {
	Scanner    Scanner
	Levels     LevelBuilder
	Signals    SignalGenerator
	Executor   Executor
	Positions  PositionBook
	MarketData MarketData
	Account    AccountReader
}

// Validate checks that no collaborator is missing.
func (c Collaborators) Validate() error {
	switch {
	case c.Scanner == nil:
		return fmt.Errorf("scanner collaborator is required")
	case c.Levels == nil:
		return fmt.Errorf("level builder collaborator is required")
	case c.Signals == nil:
		return fmt.Errorf("signal generator collaborator is required")
	case c.Executor == nil:
		return fmt.Errorf("executor collaborator is required")
	case c.Positions == nil:
		return fmt.Errorf("position book collaborator is required")
	case c.MarketData == nil:
		return fmt.Errorf("market data collaborator is required")
	case c.Account == nil:
		return fmt.Errorf("account reader collaborator is required")
	}
	return nil
}

// PhaseDelays holds the post-phase wait for each lifecycle state. The
// waits are interruptible: a stop request never blocks on them.
type PhaseDelays struct {
	Idle          time.Duration
	Initializing  time.Duration
	Scanning      time.Duration
	LevelBuilding time.Duration
	SignalWait    time.Duration
	Sizing        time.Duration
	Execution     time.Duration
	Managing      time.Duration
	Paused        time.Duration
	Error         time.Duration
}

// DefaultPhaseDelays returns the production cycle pacing.
func DefaultPhaseDelays() PhaseDelays {
	return PhaseDelays{
		Idle:          time.Second,
		Initializing:  200 * time.Millisecond,
		Scanning:      5 * time.Second,
		LevelBuilding: 500 * time.Millisecond,
		SignalWait:    2 * time.Second,
		Sizing:        200 * time.Millisecond,
		Execution:     200 * time.Millisecond,
		Managing:      time.Second,
		Paused:        time.Second,
		Error:         2 * time.Second,
	}
}
