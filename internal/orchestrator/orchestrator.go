package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quanttide/breakout-bot/internal/errors"
	"github.com/quanttide/breakout-bot/internal/events"
	"github.com/quanttide/breakout-bot/internal/recovery"
	"github.com/quanttide/breakout-bot/internal/risk"
	"github.com/quanttide/breakout-bot/internal/safety"
	"github.com/quanttide/breakout-bot/internal/state"
)

const (
	// maxRecoveryAttempts bounds Error-state re-initialization tries
	// before escalating to Emergency.
	maxRecoveryAttempts = 3

	// orderRateCapacity / orderRateRefill gate order submission bursts.
	orderRateCapacity = 5
	orderRateRefill   = 2
)

// approvedSignal pairs a signal with its risk-approved size for the
// execution phase.
type approvedSignal struct {
	Signal risk.Signal
	Size   risk.PositionSize
}

// Status is a read-only snapshot of the running cycle.
type Status struct {
	SessionID         string          `json:"session_id"`
	State             string          `json:"state"`
	PreviousState     string          `json:"previous_state"`
	CycleCount        uint64          `json:"cycle_count"`
	RecoveryAttempts  int             `json:"recovery_attempts"`
	LastError         string          `json:"last_error,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	Risk              risk.RiskStatus `json:"risk"`
	OpenPositionCount int             `json:"open_position_count"`
}

// Orchestrator is a single-flight cyclic controller: one iteration
// performs exactly one phase of work matching the current lifecycle
// state, requests at most one transition, then waits an interruptible
// phase delay. No two phases ever run concurrently.
type Orchestrator struct {
	sessionID string
	machine   *state.Machine
	riskMgr   *risk.Manager
	bus       *events.Bus
	collab    Collaborators
	delays    PhaseDelays
	retrier   *recovery.Retrier
	validator *safety.Validator
	limiter   *safety.RateLimiter
	log       *zap.Logger

	mu               sync.Mutex
	candidates       []ScanResult
	signals          []risk.Signal
	approved         []approvedSignal
	cycles           uint64
	recoveryAttempts int
	lastErr          error
	lastRisk         risk.RiskStatus
	openPositions    int
	startedAt        time.Time
}

// New creates an orchestrator bound to its collaborators. The state
// machine starts in Idle; Run drives it from there.
func New(machine *state.Machine, riskMgr *risk.Manager, bus *events.Bus, collab Collaborators, log *zap.Logger) (*Orchestrator, error) {
	if err := collab.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, "orchestrator", "new")
	}
	if log == nil {
		log = zap.NewNop()
	}

	o := &Orchestrator{
		sessionID: uuid.NewString(),
		machine:   machine,
		riskMgr:   riskMgr,
		bus:       bus,
		collab:    collab,
		delays:    DefaultPhaseDelays(),
		retrier:   recovery.NewRetrier(recovery.DefaultRetryConfig(), log),
		validator: safety.NewValidator(),
		limiter:   safety.NewRateLimiter("orders", orderRateCapacity, orderRateRefill),
	}
	o.log = log.With(zap.String("session_id", o.sessionID))

	machine.Subscribe(func(t state.Transition) {
		bus.Publish(events.Event{
			SessionID: o.sessionID,
			Type:      events.TypeTransition,
			Phase:     t.From.String(),
			FromState: t.From.String(),
			ToState:   t.To.String(),
			Reason:    t.Reason,
			Timestamp: t.Timestamp,
			Metadata:  t.Metadata,
		})
	})

	return o, nil
}

// SetDelays overrides the phase pacing. Intended for tests and fast
// paper-trading profiles.
func (o *Orchestrator) SetDelays(d PhaseDelays) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delays = d
}

// SetRetrier overrides the retry policy for collaborator calls.
func (o *Orchestrator) SetRetrier(r *recovery.Retrier) {
	o.retrier = r
}

// SessionID returns the identifier correlating this run's logs and events.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// Run drives the trading cycle until the context is cancelled or the
// machine reaches a terminal state. A cancelled context is a normal
// stop, not an error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.startedAt = time.Now()
	o.mu.Unlock()

	o.log.Info("trading cycle starting")
	o.publishControl("run_started", nil)

	for {
		select {
		case <-ctx.Done():
			return o.stopRequested()
		default:
		}

		current := o.machine.CurrentState()
		switch current {
		case state.StateStopped:
			o.log.Info("trading cycle stopped")
			o.publishControl("run_stopped", nil)
			return nil
		case state.StateEmergency:
			o.log.Error("trading cycle halted in emergency state")
			o.publishControl("run_emergency_halt", nil)
			return errors.New(errors.CategoryFatal, "orchestrator", "run",
				"emergency state reached, manual intervention required")
		}

		delay, err := o.runPhase(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				return o.stopRequested()
			}
			o.handlePhaseError(current, err)
		}

		o.mu.Lock()
		o.cycles++
		o.mu.Unlock()

		if !o.wait(ctx, delay) {
			return o.stopRequested()
		}
	}
}

// stopRequested records an externally requested stop. The Stopped state
// is forced so a stop is honored from any phase, including Error.
func (o *Orchestrator) stopRequested() error {
	if o.machine.CurrentState() != state.StateStopped {
		o.machine.ForceTransitionTo(state.StateStopped, "stop_requested", nil)
	}
	o.log.Info("trading cycle stopped on request")
	o.publishControl("run_stopped", nil)
	return nil
}

// wait blocks for the phase delay or until cancellation, whichever comes
// first. Returns false when cancelled so the loop exits immediately
// instead of waiting out the remaining delay.
func (o *Orchestrator) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (o *Orchestrator) runPhase(ctx context.Context, current state.TradingState) (time.Duration, error) {
	o.mu.Lock()
	delays := o.delays
	o.mu.Unlock()

	switch current {
	case state.StateIdle:
		return delays.Idle, o.handleIdle()
	case state.StateInitializing:
		return delays.Initializing, o.handleInitializing(ctx)
	case state.StateScanning:
		return delays.Scanning, o.handleScanning(ctx)
	case state.StateLevelBuilding:
		return delays.LevelBuilding, o.handleLevelBuilding(ctx)
	case state.StateSignalWait:
		return delays.SignalWait, o.handleSignalWait(ctx)
	case state.StateSizing:
		return delays.Sizing, o.handleSizing(ctx)
	case state.StateExecution:
		return delays.Execution, o.handleExecution(ctx)
	case state.StateManaging:
		return delays.Managing, o.handleManaging(ctx)
	case state.StatePaused:
		return delays.Paused, nil
	case state.StateError:
		return delays.Error, o.handleError(ctx)
	default:
		return delays.Idle, errors.New(errors.CategoryFatal, "orchestrator", "run_phase",
			"no handler for state "+current.String())
	}
}

// handlePhaseError applies the escalation policy: fatal faults and an
// active kill switch always win and force Emergency; everything else is
// recoverable and transitions to Error. The Emergency-over-Error
// precedence is deterministic so simultaneous qualifying conditions in
// one phase cannot race.
func (o *Orchestrator) handlePhaseError(phase state.TradingState, err error) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()

	engineErr := errors.Categorize(err, "orchestrator", phase.String())
	o.bus.Publish(events.Event{
		SessionID: o.sessionID,
		Type:      events.TypePhaseError,
		Phase:     phase.String(),
		Reason:    err.Error(),
		Metadata: map[string]interface{}{
			"category":         string(engineErr.Category),
			"suggested_action": string(engineErr.SuggestedAction()),
		},
	})

	if errors.IsFatal(err) || o.riskMgr.KillSwitchTriggered() {
		o.log.Error("fatal phase failure, entering emergency",
			zap.String("phase", phase.String()),
			zap.Error(err))
		o.transition(state.StateEmergency, "fatal_phase_failure", map[string]interface{}{
			"phase": phase.String(),
			"error": err.Error(),
		})
		return
	}

	o.log.Warn("recoverable phase failure",
		zap.String("phase", phase.String()),
		zap.Error(err))
	o.transition(state.StateError, "phase_failure", map[string]interface{}{
		"phase": phase.String(),
		"error": err.Error(),
	})
}

// transition requests a state change, retrying once on a lock-timeout
// style refusal before giving up. An invalid request is logged by the
// machine and dropped here; handlers only request table-valid targets.
func (o *Orchestrator) transition(to state.TradingState, reason string, metadata map[string]interface{}) bool {
	if o.machine.TransitionTo(to, reason, metadata) {
		return true
	}
	if o.machine.CanTransition(to) {
		return o.machine.TransitionTo(to, reason, metadata)
	}
	return false
}

// Status returns a snapshot of the cycle for the control surface and
// monitoring consumers.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Status{
		SessionID:         o.sessionID,
		State:             o.machine.CurrentState().String(),
		PreviousState:     o.machine.PreviousState().String(),
		CycleCount:        o.cycles,
		RecoveryAttempts:  o.recoveryAttempts,
		StartedAt:         o.startedAt,
		Risk:              o.lastRisk,
		OpenPositionCount: o.openPositions,
	}
	if o.lastErr != nil {
		s.LastError = o.lastErr.Error()
	}
	return s
}

func (o *Orchestrator) publishControl(reason string, metadata map[string]interface{}) {
	o.bus.Publish(events.Event{
		SessionID: o.sessionID,
		Type:      events.TypeControl,
		Phase:     o.machine.CurrentState().String(),
		Reason:    reason,
		Metadata:  metadata,
	})
}

func (o *Orchestrator) publishRiskDecision(phase string, sig risk.Signal, eval risk.RiskEvaluation) {
	reason := "approved"
	if !eval.Approved {
		reason = eval.RejectReason
	}
	o.bus.Publish(events.Event{
		SessionID: o.sessionID,
		Type:      events.TypeRiskDecision,
		Phase:     phase,
		Reason:    reason,
		Metadata: map[string]interface{}{
			"symbol":       sig.Symbol,
			"side":         string(sig.Side),
			"strategy":     string(sig.Strategy),
			"approved":     eval.Approved,
			"quantity":     eval.Size.Quantity,
			"notional_usd": eval.Size.NotionalUSD,
			"size_reduced": eval.SizeReduced,
		},
	})
}
