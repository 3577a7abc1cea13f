package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_StartsIdle(t *testing.T) {
	m := NewMachine(nil)

	assert.Equal(t, StateIdle, m.CurrentState())
	assert.False(t, m.IsTerminal())
	assert.Empty(t, m.TransitionHistory(0))
}

// Every (from, to) pair absent from the transition table must be rejected
// without mutating the current state.
func TestMachine_InvalidTransitionsLeaveStateUnchanged(t *testing.T) {
	for _, from := range AllStates() {
		for _, to := range AllStates() {
			if _, ok := validTransitions[from][to]; ok {
				continue
			}
			m := NewMachine(nil)
			require.True(t, m.ForceTransitionTo(from, "setup", nil))

			ok := m.TransitionTo(to, "attempt", nil)

			assert.False(t, ok, "%s -> %s should be rejected", from, to)
			assert.Equal(t, from, m.CurrentState(), "%s -> %s must not mutate", from, to)
		}
	}
}

func TestMachine_ValidTransitionsApply(t *testing.T) {
	for _, from := range AllStates() {
		for to := range validTransitions[from] {
			m := NewMachine(nil)
			require.True(t, m.ForceTransitionTo(from, "setup", nil))

			ok := m.TransitionTo(to, "test", nil)

			require.True(t, ok, "%s -> %s should be accepted", from, to)
			assert.Equal(t, to, m.CurrentState())
			assert.Equal(t, from, m.PreviousState())
		}
	}
}

func TestMachine_SelfTransitionIsNoOp(t *testing.T) {
	m := NewMachine(nil)
	require.True(t, m.TransitionTo(StateInitializing, "start", nil))

	assert.False(t, m.TransitionTo(StateInitializing, "again", nil))
	assert.Len(t, m.TransitionHistory(0), 1)
}

func TestMachine_ForcedSelfTransitionIsRecorded(t *testing.T) {
	m := NewMachine(nil)

	assert.True(t, m.ForceTransitionTo(StateIdle, "manual reset", nil))
	history := m.TransitionHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, StateIdle, history[0].From)
	assert.Equal(t, StateIdle, history[0].To)
}

func TestMachine_EveryNonTerminalStateReachesEscapeStates(t *testing.T) {
	for _, from := range AllStates() {
		if from.IsTerminal() {
			continue
		}
		for _, escape := range []TradingState{StateError, StateEmergency, StateStopped} {
			if escape == from {
				continue
			}
			_, ok := validTransitions[from][escape]
			assert.True(t, ok, "%s must be able to reach %s", from, escape)
		}
	}
}

func TestMachine_TerminalStatesRequireExternalReset(t *testing.T) {
	for _, terminal := range []TradingState{StateEmergency, StateStopped} {
		assert.True(t, terminal.IsTerminal())
		for _, to := range []TradingState{StateScanning, StateManaging, StateExecution} {
			_, ok := validTransitions[terminal][to]
			assert.False(t, ok, "%s must not auto-progress to %s", terminal, to)
		}
	}
}

func TestMachine_HistoryBounded(t *testing.T) {
	m := NewMachine(nil)
	m.maxHist = 5

	for i := 0; i < 20; i++ {
		require.True(t, m.ForceTransitionTo(StateScanning, fmt.Sprintf("cycle %d", i), nil))
	}

	history := m.TransitionHistory(0)
	require.Len(t, history, 5)
	assert.Equal(t, "cycle 19", history[4].Reason, "newest record kept")
	assert.Equal(t, "cycle 15", history[0].Reason, "oldest evicted")
}

func TestMachine_TransitionHistoryLimit(t *testing.T) {
	m := NewMachine(nil)
	require.True(t, m.TransitionTo(StateInitializing, "start", nil))
	require.True(t, m.TransitionTo(StateScanning, "initialized", nil))
	require.True(t, m.TransitionTo(StateLevelBuilding, "candidates found", nil))

	recent := m.TransitionHistory(2)
	require.Len(t, recent, 2)
	assert.Equal(t, StateScanning, recent[0].To)
	assert.Equal(t, StateLevelBuilding, recent[1].To)
}

func TestMachine_ObserversNotifiedOnAcceptedTransition(t *testing.T) {
	m := NewMachine(nil)

	var seen []Transition
	m.Subscribe(func(tr Transition) { seen = append(seen, tr) })

	m.TransitionTo(StateInitializing, "start", map[string]interface{}{"operator": "cli"})
	m.TransitionTo(StateExecution, "invalid jump", nil)

	require.Len(t, seen, 1, "rejected transitions must not notify")
	assert.Equal(t, StateIdle, seen[0].From)
	assert.Equal(t, StateInitializing, seen[0].To)
	assert.Equal(t, "cli", seen[0].Metadata["operator"])
}

func TestMachine_PanickingObserverDoesNotAbortTransition(t *testing.T) {
	m := NewMachine(nil)
	m.Subscribe(func(Transition) { panic("observer bug") })

	var notified bool
	m.Subscribe(func(Transition) { notified = true })

	assert.True(t, m.TransitionTo(StateInitializing, "start", nil))
	assert.Equal(t, StateInitializing, m.CurrentState())
	assert.True(t, notified, "later observers still notified")
}

func TestMachine_LockTimeoutFailsClosed(t *testing.T) {
	m := NewMachine(nil)
	m.SetLockTimeout(20 * time.Millisecond)

	// Hold the lock from outside so the transition cannot acquire it.
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	start := time.Now()
	ok := m.TransitionTo(StateInitializing, "start", nil)

	assert.False(t, ok)
	assert.Equal(t, StateIdle, m.current)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMachine_ValidNextStatesSorted(t *testing.T) {
	m := NewMachine(nil)
	require.True(t, m.TransitionTo(StateInitializing, "start", nil))
	require.True(t, m.TransitionTo(StateScanning, "initialized", nil))

	next := m.ValidNextStates()
	assert.Contains(t, next, StateLevelBuilding)
	assert.Contains(t, next, StateManaging)
	assert.Contains(t, next, StateError)
	assert.Contains(t, next, StateEmergency)
	assert.Contains(t, next, StateStopped)
	for i := 1; i < len(next); i++ {
		assert.True(t, next[i-1] < next[i], "result must be sorted")
	}
}

func TestMachine_ResetToInitial(t *testing.T) {
	m := NewMachine(nil)
	require.True(t, m.TransitionTo(StateEmergency, "kill switch", nil))
	require.True(t, m.IsTerminal())

	assert.True(t, m.ResetToInitial("manual reset"))
	assert.Equal(t, StateIdle, m.CurrentState())
}
