package control

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quanttide/breakout-bot/internal/errors"
	"github.com/quanttide/breakout-bot/internal/events"
	"github.com/quanttide/breakout-bot/internal/orchestrator"
	"github.com/quanttide/breakout-bot/internal/risk"
	"github.com/quanttide/breakout-bot/internal/state"
)

// Command is an external control action. Commands translate 1:1 into
// state machine transition requests; they never bypass the table.
type Command string

const (
	CommandStart           Command = "start"
	CommandStop            Command = "stop"
	CommandPause           Command = "pause"
	CommandResume          Command = "resume"
	CommandEmergencyStop   Command = "emergency_stop"
	CommandResetKillSwitch Command = "reset_kill_switch"
)

// stopTimeout bounds how long Stop waits for the cycle goroutine.
const stopTimeout = 5 * time.Second

// Controller exposes the operator-facing control surface over the
// orchestrator, state machine and kill switch.
type Controller struct {
	machine *state.Machine
	riskMgr *risk.Manager
	orch    *orchestrator.Orchestrator
	bus     *events.Bus
	log     *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan error
	running bool
}

// NewController wires the control surface. The orchestrator must not be
// running yet; Start owns its lifecycle.
func NewController(machine *state.Machine, riskMgr *risk.Manager, orch *orchestrator.Orchestrator, bus *events.Bus, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		machine: machine,
		riskMgr: riskMgr,
		orch:    orch,
		bus:     bus,
		log:     log,
	}
}

// Start launches the trading cycle in the background.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.New(errors.CategoryValidation, "control", "start", "trading cycle already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	c.cancel = cancel
	c.done = done
	c.running = true

	go func() {
		err := c.orch.Run(runCtx)
		if err != nil {
			c.log.Error("trading cycle exited with error", zap.Error(err))
		}
		done <- err

		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	c.publish(CommandStart, "accepted")
	return nil
}

// Stop cancels the cycle and waits for it to drain.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return errors.New(errors.CategoryValidation, "control", "stop", "trading cycle not running")
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	c.publish(CommandStop, "accepted")

	select {
	case err := <-done:
		return err
	case <-time.After(stopTimeout):
		return errors.New(errors.CategoryTimeout, "control", "stop", "trading cycle did not stop in time")
	}
}

// Wait blocks until the running cycle exits and returns its error.
func (c *Controller) Wait() error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	return <-done
}

// Pause holds the cycle: the machine parks in Paused and phases stop
// doing work until Resume.
func (c *Controller) Pause() error {
	if !c.machine.TransitionTo(state.StatePaused, "pause_requested", nil) {
		return errors.New(errors.CategoryValidation, "control", "pause",
			"cannot pause from state "+c.machine.CurrentState().String())
	}
	c.publish(CommandPause, "accepted")
	return nil
}

// Resume releases a paused cycle back to where it was: Managing when it
// was managing an open book, Scanning otherwise.
func (c *Controller) Resume() error {
	if c.machine.CurrentState() != state.StatePaused {
		return errors.New(errors.CategoryValidation, "control", "resume",
			"cannot resume from state "+c.machine.CurrentState().String())
	}

	target := state.StateScanning
	if c.machine.PreviousState() == state.StateManaging {
		target = state.StateManaging
	}
	if !c.machine.TransitionTo(target, "resume_requested", nil) {
		return errors.New(errors.CategoryTemporary, "control", "resume", "resume transition refused")
	}
	c.publish(CommandResume, "accepted")
	return nil
}

// EmergencyStop forces the Emergency state from anywhere. The running
// cycle observes it and halts; only ResetKillSwitch plus a fresh Start
// brings trading back.
func (c *Controller) EmergencyStop(reason string) {
	if reason == "" {
		reason = "operator_emergency_stop"
	}
	c.machine.ForceTransitionTo(state.StateEmergency, reason, nil)
	c.publish(CommandEmergencyStop, reason)
}

// ResetKillSwitch clears the latched kill switch and resets the machine
// to Idle. This is the only path out of a triggered kill switch and it
// is deliberately manual.
func (c *Controller) ResetKillSwitch() error {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running {
		return errors.New(errors.CategoryValidation, "control", "reset_kill_switch",
			"stop the trading cycle before resetting the kill switch")
	}

	c.riskMgr.ResetKillSwitch()
	c.machine.ResetToInitial("kill_switch_reset")
	c.publish(CommandResetKillSwitch, "accepted")
	return nil
}

// Status returns the orchestrator's current snapshot.
func (c *Controller) Status() orchestrator.Status {
	return c.orch.Status()
}

// History returns the most recent state transitions, newest last.
func (c *Controller) History(limit int) []state.Transition {
	return c.machine.TransitionHistory(limit)
}

// AvailableCommands derives the commands valid right now from the
// machine's reachable states.
func (c *Controller) AvailableCommands() []Command {
	current := c.machine.CurrentState()

	var cmds []Command
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	if !running && (current == state.StateIdle || current == state.StateStopped) {
		cmds = append(cmds, CommandStart)
	}
	if running {
		cmds = append(cmds, CommandStop)
	}

	for _, next := range c.machine.ValidNextStates() {
		switch next {
		case state.StatePaused:
			cmds = append(cmds, CommandPause)
		}
	}
	if current == state.StatePaused {
		cmds = append(cmds, CommandResume)
	}
	if !current.IsTerminal() {
		cmds = append(cmds, CommandEmergencyStop)
	}
	if !running && c.riskMgr.KillSwitchTriggered() {
		cmds = append(cmds, CommandResetKillSwitch)
	}
	return cmds
}

func (c *Controller) publish(cmd Command, reason string) {
	c.bus.Publish(events.Event{
		SessionID: c.orch.SessionID(),
		Type:      events.TypeControl,
		Phase:     c.machine.CurrentState().String(),
		Reason:    reason,
		Metadata:  map[string]interface{}{"command": string(cmd)},
	})
}
