package state

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultHistorySize bounds the transition history; the oldest record
	// is evicted once the bound is reached.
	DefaultHistorySize = 100

	// DefaultLockTimeout bounds the wait for the transition lock. On
	// timeout the machine fails closed: no mutation, TransitionTo
	// returns false.
	DefaultLockTimeout = 5 * time.Second
)

// Transition is an immutable record of one accepted state change.
type Transition struct {
	From      TradingState           `json:"from"`
	To        TradingState           `json:"to"`
	Reason    string                 `json:"reason"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Observer is notified synchronously for every accepted transition.
// A panicking observer is caught and logged; it never aborts the transition.
type Observer func(Transition)

// Machine owns the current lifecycle state and its bounded transition
// history. All mutation is serialized through a timed lock so two
// conflicting operations can never interleave, and a stuck observer or
// caller cannot deadlock the rest of the system.
type Machine struct {
	sem         chan struct{}
	lockTimeout time.Duration

	current   TradingState
	previous  TradingState
	history   []Transition
	maxHist   int
	observers []Observer

	log   *zap.Logger
	clock func() time.Time
}

// NewMachine creates a state machine starting in Idle.
func NewMachine(log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Machine{
		sem:         make(chan struct{}, 1),
		lockTimeout: DefaultLockTimeout,
		current:     StateIdle,
		maxHist:     DefaultHistorySize,
		log:         log,
		clock:       time.Now,
	}
	return m
}

// SetLockTimeout overrides the transition lock timeout. Intended for tests.
func (m *Machine) SetLockTimeout(d time.Duration) {
	m.lockTimeout = d
}

func (m *Machine) acquire() bool {
	timer := time.NewTimer(m.lockTimeout)
	defer timer.Stop()
	select {
	case m.sem <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (m *Machine) release() {
	<-m.sem
}

// CurrentState returns the machine's current lifecycle state.
func (m *Machine) CurrentState() TradingState {
	if !m.acquire() {
		// Reads fall back to the last observed state rather than blocking
		// forever; current is only written under the lock.
		return m.current
	}
	defer m.release()
	return m.current
}

// PreviousState returns the state held before the last accepted transition.
func (m *Machine) PreviousState() TradingState {
	if !m.acquire() {
		return m.previous
	}
	defer m.release()
	return m.previous
}

// IsTerminal reports whether the machine sits in a state with no
// automatic progression.
func (m *Machine) IsTerminal() bool {
	return m.CurrentState().IsTerminal()
}

// CanTransition reports whether a transition from the current state to
// the target is allowed by the transition table.
func (m *Machine) CanTransition(to TradingState) bool {
	from := m.CurrentState()
	_, ok := validTransitions[from][to]
	return ok
}

// ValidNextStates returns the sorted set of states reachable from the
// current state.
func (m *Machine) ValidNextStates() []TradingState {
	from := m.CurrentState()
	targets := validTransitions[from]
	next := make([]TradingState, 0, len(targets))
	for to := range targets {
		next = append(next, to)
	}
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next
}

// TransitionTo validates and applies a state change. It returns false
// without mutating anything when the transition is invalid, when the
// target equals the current state, or when the lock cannot be acquired
// within the configured timeout.
func (m *Machine) TransitionTo(to TradingState, reason string, metadata map[string]interface{}) bool {
	return m.transition(to, reason, metadata, false)
}

// ForceTransitionTo applies a transition even when the target equals the
// current state or is absent from the table. Reserved for external
// control commands and recovery resets; every forced change is still
// recorded in the history.
func (m *Machine) ForceTransitionTo(to TradingState, reason string, metadata map[string]interface{}) bool {
	return m.transition(to, reason, metadata, true)
}

func (m *Machine) transition(to TradingState, reason string, metadata map[string]interface{}, force bool) bool {
	if !m.acquire() {
		m.log.Warn("state transition lock timeout",
			zap.String("to", to.String()),
			zap.String("reason", reason),
			zap.Duration("timeout", m.lockTimeout))
		return false
	}
	defer m.release()

	from := m.current
	if !force {
		if to == from {
			return false
		}
		if _, ok := validTransitions[from][to]; !ok {
			m.log.Warn("invalid state transition rejected",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
				zap.String("reason", reason))
			return false
		}
	}

	record := Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: m.clock(),
		Metadata:  metadata,
	}

	m.previous = from
	m.current = to
	m.history = append(m.history, record)
	if len(m.history) > m.maxHist {
		m.history = m.history[len(m.history)-m.maxHist:]
	}

	m.log.Info("state transition",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason))

	for _, obs := range m.observers {
		m.notify(obs, record)
	}
	return true
}

func (m *Machine) notify(obs Observer, record Transition) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("state observer panicked",
				zap.String("to", record.To.String()),
				zap.Any("panic", r))
		}
	}()
	obs(record)
}

// Subscribe registers an observer for all subsequent transitions.
func (m *Machine) Subscribe(obs Observer) {
	if obs == nil {
		return
	}
	if !m.acquire() {
		return
	}
	defer m.release()
	m.observers = append(m.observers, obs)
}

// TransitionHistory returns up to limit of the most recent transitions,
// newest last. A non-positive limit returns the full retained history.
func (m *Machine) TransitionHistory(limit int) []Transition {
	if !m.acquire() {
		return nil
	}
	defer m.release()

	n := len(m.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Transition, n)
	copy(out, m.history[len(m.history)-n:])
	return out
}

// ResetToInitial forces the machine back to Idle. Used by external reset
// commands after Emergency or Stopped.
func (m *Machine) ResetToInitial(reason string) bool {
	return m.ForceTransitionTo(StateIdle, reason, nil)
}
