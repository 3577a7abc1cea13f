package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/quanttide/breakout-bot/internal/errors"
	"github.com/quanttide/breakout-bot/internal/events"
	"github.com/quanttide/breakout-bot/internal/risk"
	"github.com/quanttide/breakout-bot/internal/state"
)

// handleIdle kicks a fresh cycle off. Idle is only held before the
// first iteration or after an external reset.
func (o *Orchestrator) handleIdle() error {
	o.transition(state.StateInitializing, "cycle_start", nil)
	return nil
}

// handleInitializing fetches a fresh equity/position snapshot, runs the
// risk limit check, and releases the cycle into Scanning. An already
// latched kill switch sends the machine straight to Emergency.
func (o *Orchestrator) handleInitializing(ctx context.Context) error {
	equity, positions, err := o.snapshotAccount(ctx)
	if err != nil {
		return err
	}

	status := o.riskMgr.CheckRiskLimits(equity, positions)
	o.recordRisk(status, len(positions))

	if status.KillSwitchTriggered {
		o.transition(state.StateEmergency, "kill_switch_active", map[string]interface{}{
			"kill_switch_reason": status.KillSwitchReason,
		})
		return nil
	}

	o.mu.Lock()
	o.recoveryAttempts = 0
	o.mu.Unlock()

	o.transition(state.StateScanning, "initialized", map[string]interface{}{
		"equity":         equity,
		"open_positions": len(positions),
	})
	return nil
}

// handleScanning asks the scanner for breakout candidates. With
// candidates the cycle advances to level building; with none but open
// positions it goes to managing; flat and empty it stays put and
// rescans after the cooldown.
func (o *Orchestrator) handleScanning(ctx context.Context) error {
	var results []ScanResult
	err := o.retrier.Do(ctx, "scan", func() error {
		var scanErr error
		results, scanErr = o.collab.Scanner.Scan(ctx)
		return scanErr
	})
	if err != nil {
		return err
	}

	if len(results) > 0 {
		o.mu.Lock()
		o.candidates = results
		o.mu.Unlock()
		o.transition(state.StateLevelBuilding, "candidates_found", map[string]interface{}{
			"count": len(results),
		})
		return nil
	}

	positions, err := o.openPositionsSnapshot(ctx)
	if err != nil {
		return err
	}
	if len(positions) > 0 {
		o.transition(state.StateManaging, "no_candidates_managing_open", map[string]interface{}{
			"open_positions": len(positions),
		})
		return nil
	}

	o.log.Debug("scan found nothing, holding in scanning")
	return nil
}

// handleLevelBuilding converts scan candidates into actionable levels.
func (o *Orchestrator) handleLevelBuilding(ctx context.Context) error {
	o.mu.Lock()
	candidates := o.candidates
	o.mu.Unlock()

	var built []ScanResult
	err := o.retrier.Do(ctx, "build_levels", func() error {
		var buildErr error
		built, buildErr = o.collab.Levels.Build(ctx, candidates)
		return buildErr
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.candidates = built
	o.mu.Unlock()

	o.transition(state.StateSignalWait, "levels_built", map[string]interface{}{
		"count": len(built),
	})
	return nil
}

// handleSignalWait polls the signal generator against the prepared
// candidates.
func (o *Orchestrator) handleSignalWait(ctx context.Context) error {
	o.mu.Lock()
	candidates := o.candidates
	o.mu.Unlock()

	var signals []risk.Signal
	err := o.retrier.Do(ctx, "generate_signals", func() error {
		var genErr error
		signals, genErr = o.collab.Signals.GenerateSignals(ctx, candidates)
		return genErr
	})
	if err != nil {
		return err
	}

	if len(signals) > 0 {
		o.mu.Lock()
		o.signals = signals
		o.mu.Unlock()
		o.transition(state.StateSizing, "signals_found", map[string]interface{}{
			"count": len(signals),
		})
		return nil
	}

	positions, err := o.openPositionsSnapshot(ctx)
	if err != nil {
		return err
	}
	if len(positions) > 0 {
		o.transition(state.StateManaging, "no_signals_managing_open", nil)
		return nil
	}
	o.transition(state.StateScanning, "no_signals", nil)
	return nil
}

// handleSizing runs every pending signal through the risk manager with
// a freshly fetched equity/position/market snapshot. Rejections are
// normal decisions, not faults: each one is published with its reason
// and the signal is dropped.
func (o *Orchestrator) handleSizing(ctx context.Context) error {
	o.mu.Lock()
	signals := o.signals
	o.signals = nil
	o.mu.Unlock()

	equity, positions, err := o.snapshotAccount(ctx)
	if err != nil {
		return err
	}

	status := o.riskMgr.CheckRiskLimits(equity, positions)
	o.recordRisk(status, len(positions))

	if status.KillSwitchTriggered {
		o.transition(state.StateEmergency, "kill_switch_active", map[string]interface{}{
			"kill_switch_reason": status.KillSwitchReason,
		})
		return nil
	}

	var approved []approvedSignal
	for _, sig := range signals {
		snap, snapErr := o.marketSnapshot(ctx, sig.Symbol)
		if snapErr != nil {
			o.log.Warn("market snapshot unavailable, dropping signal",
				zap.String("symbol", sig.Symbol),
				zap.Error(snapErr))
			continue
		}

		eval := o.riskMgr.EvaluateSignalRisk(sig, equity, snap, positions)
		o.publishRiskDecision(state.StateSizing.String(), sig, eval)
		if eval.Approved {
			approved = append(approved, approvedSignal{Signal: sig, Size: eval.Size})
		}
	}

	if len(approved) > 0 {
		o.mu.Lock()
		o.approved = approved
		o.mu.Unlock()
		o.transition(state.StateExecution, "signals_approved", map[string]interface{}{
			"count": len(approved),
		})
		return nil
	}

	o.transition(state.StateScanning, "no_signals_approved", nil)
	return nil
}

// handleExecution submits approved signals in order. Orders pass the
// pre-trade validator and the submission rate limiter first. One
// successful submission is enough to advance to Managing.
func (o *Orchestrator) handleExecution(ctx context.Context) error {
	o.mu.Lock()
	approved := o.approved
	o.approved = nil
	o.mu.Unlock()

	var successes int
	var lastErr error

	for _, a := range approved {
		if r := o.validator.ValidateOrder(a.Signal.Entry, a.Size.Quantity, a.Signal.Symbol); !r.Valid {
			o.log.Error("approved order failed pre-trade validation",
				zap.String("symbol", a.Signal.Symbol),
				zap.String("reason", r.Reason))
			continue
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, errors.CategoryTimeout, "orchestrator", "order_rate_limit")
		}

		var order *Order
		err := o.retrier.Do(ctx, "execute_order", func() error {
			var execErr error
			order, execErr = o.collab.Executor.Execute(ctx, a.Signal, a.Size)
			return execErr
		})
		if err != nil {
			lastErr = err
			o.log.Error("order submission failed",
				zap.String("symbol", a.Signal.Symbol),
				zap.Error(err))
			continue
		}

		successes++
		o.bus.Publish(events.Event{
			SessionID: o.sessionID,
			Type:      events.TypeOrder,
			Phase:     state.StateExecution.String(),
			Reason:    "order_placed",
			Metadata: map[string]interface{}{
				"order_id": order.OrderID,
				"symbol":   order.Symbol,
				"side":     string(order.Side),
				"quantity": order.Quantity,
				"price":    order.Price,
			},
		})
	}

	if successes > 0 {
		o.transition(state.StateManaging, "orders_placed", map[string]interface{}{
			"placed": successes,
		})
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	o.transition(state.StateScanning, "no_orders_placed", nil)
	return nil
}

// handleManaging refreshes mark-to-market on the open position set and
// re-checks risk limits. The phase loops tightly until the book is flat.
func (o *Orchestrator) handleManaging(ctx context.Context) error {
	var positions []risk.Position
	if err := o.retrier.Do(ctx, "refresh_positions", func() error {
		var refreshErr error
		positions, refreshErr = o.collab.Positions.Refresh(ctx)
		return refreshErr
	}); err != nil {
		return err
	}
	if len(positions) == 0 {
		o.transition(state.StateScanning, "book_flat", nil)
		return nil
	}

	equity, err := o.equitySnapshot(ctx)
	if err != nil {
		return err
	}
	status := o.riskMgr.CheckRiskLimits(equity, positions)
	o.recordRisk(status, len(positions))

	if status.KillSwitchTriggered {
		o.transition(state.StateEmergency, "kill_switch_active", map[string]interface{}{
			"kill_switch_reason": status.KillSwitchReason,
		})
	}
	return nil
}

// handleError attempts bounded recovery: verify the account is
// reachable and re-initialize. Exhausting the attempt budget escalates
// to Emergency.
func (o *Orchestrator) handleError(ctx context.Context) error {
	o.mu.Lock()
	o.recoveryAttempts++
	attempts := o.recoveryAttempts
	o.mu.Unlock()

	if attempts > maxRecoveryAttempts {
		o.transition(state.StateEmergency, "recovery_exhausted", map[string]interface{}{
			"attempts": attempts,
		})
		return nil
	}

	if _, err := o.equitySnapshot(ctx); err != nil {
		o.log.Warn("recovery probe failed",
			zap.Int("attempt", attempts),
			zap.Error(err))
		return nil
	}

	o.transition(state.StateInitializing, "recovered", map[string]interface{}{
		"attempt": attempts,
	})
	return nil
}

// snapshotAccount fetches equity and open positions fresh; risk
// decisions never run on cached account state.
func (o *Orchestrator) snapshotAccount(ctx context.Context) (float64, []risk.Position, error) {
	equity, err := o.equitySnapshot(ctx)
	if err != nil {
		return 0, nil, err
	}
	positions, err := o.openPositionsSnapshot(ctx)
	if err != nil {
		return 0, nil, err
	}
	return equity, positions, nil
}

func (o *Orchestrator) equitySnapshot(ctx context.Context) (float64, error) {
	var equity float64
	err := o.retrier.Do(ctx, "fetch_equity", func() error {
		var eqErr error
		equity, eqErr = o.collab.Account.Equity(ctx)
		return eqErr
	})
	return equity, err
}

func (o *Orchestrator) openPositionsSnapshot(ctx context.Context) ([]risk.Position, error) {
	var positions []risk.Position
	err := o.retrier.Do(ctx, "fetch_positions", func() error {
		var posErr error
		positions, posErr = o.collab.Positions.OpenPositions(ctx)
		return posErr
	})
	return positions, err
}

func (o *Orchestrator) marketSnapshot(ctx context.Context, symbol string) (risk.MarketSnapshot, error) {
	var snap risk.MarketSnapshot
	err := o.retrier.Do(ctx, "market_snapshot", func() error {
		var snapErr error
		snap, snapErr = o.collab.MarketData.Snapshot(ctx, symbol)
		return snapErr
	})
	return snap, err
}

func (o *Orchestrator) recordRisk(status risk.RiskStatus, openPositions int) {
	o.mu.Lock()
	o.lastRisk = status
	o.openPositions = openPositions
	o.mu.Unlock()
}
