package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quanttide/breakout-bot/internal/events"
	"github.com/quanttide/breakout-bot/internal/orchestrator"
	"github.com/quanttide/breakout-bot/internal/risk"
	"github.com/quanttide/breakout-bot/internal/state"
)

// quietCollab is a flat, signal-free market: the cycle initializes and
// then holds in Scanning forever.
type quietCollab struct{}

func (quietCollab) Scan(context.Context) ([]orchestrator.ScanResult, error) { return nil, nil }
func (quietCollab) Build(_ context.Context, c []orchestrator.ScanResult) ([]orchestrator.ScanResult, error) {
	return c, nil
}
func (quietCollab) GenerateSignals(context.Context, []orchestrator.ScanResult) ([]risk.Signal, error) {
	return nil, nil
}
func (quietCollab) Execute(context.Context, risk.Signal, risk.PositionSize) (*orchestrator.Order, error) {
	return &orchestrator.Order{}, nil
}
func (quietCollab) OpenPositions(context.Context) ([]risk.Position, error) { return nil, nil }
func (quietCollab) Refresh(context.Context) ([]risk.Position, error) { return nil, nil }
func (quietCollab) Snapshot(context.Context, string) (risk.MarketSnapshot, error) {
	return risk.MarketSnapshot{Price: 100, DepthUSD: 1_000_000, QtyStep: 0.1}, nil
}
func (quietCollab) Equity(context.Context) (float64, error) { return 10000, nil }

func fastDelays() orchestrator.PhaseDelays {
	return orchestrator.PhaseDelays{
		Idle:          time.Millisecond,
		Initializing:  time.Millisecond,
		Scanning:      time.Millisecond,
		LevelBuilding: time.Millisecond,
		SignalWait:    time.Millisecond,
		Sizing:        time.Millisecond,
		Execution:     time.Millisecond,
		Managing:      time.Millisecond,
		Paused:        time.Millisecond,
		Error:         time.Millisecond,
	}
}

func newTestController(t *testing.T) (*Controller, *state.Machine, *risk.Manager) {
	t.Helper()

	machine := state.NewMachine(zap.NewNop())
	riskMgr := risk.NewManager(risk.DefaultConfig(), zap.NewNop())
	bus := events.NewBus(zap.NewNop())

	var q quietCollab
	orch, err := orchestrator.New(machine, riskMgr, bus, orchestrator.Collaborators{
		Scanner:    q,
		Levels:     q,
		Signals:    q,
		Executor:   q,
		Positions:  q,
		MarketData: q,
		Account:    q,
	}, zap.NewNop())
	require.NoError(t, err)
	orch.SetDelays(fastDelays())

	return NewController(machine, riskMgr, orch, bus, zap.NewNop()), machine, riskMgr
}

func waitForState(t *testing.T, machine *state.Machine, want state.TradingState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return machine.CurrentState() == want
	}, 2*time.Second, 5*time.Millisecond, "expected state %s", want)
}

func TestController_StartStopLifecycle(t *testing.T) {
	c, machine, _ := newTestController(t)

	require.NoError(t, c.Start(context.Background()))
	waitForState(t, machine, state.StateScanning)

	require.NoError(t, c.Stop())
	assert.Equal(t, state.StateStopped, machine.CurrentState())
}

func TestController_DoubleStartRejected(t *testing.T) {
	c, machine, _ := newTestController(t)

	require.NoError(t, c.Start(context.Background()))
	waitForState(t, machine, state.StateScanning)

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, c.Stop())
}

func TestController_PauseAndResume(t *testing.T) {
	c, machine, _ := newTestController(t)

	require.NoError(t, c.Start(context.Background()))
	waitForState(t, machine, state.StateScanning)

	require.NoError(t, c.Pause())
	assert.Equal(t, state.StatePaused, machine.CurrentState())

	// Paused holds: no automatic progression.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, state.StatePaused, machine.CurrentState())

	require.NoError(t, c.Resume())
	waitForState(t, machine, state.StateScanning)

	require.NoError(t, c.Stop())
}

func TestController_PauseRequiresRunnableState(t *testing.T) {
	c, _, _ := newTestController(t)

	// Machine still in Idle; Idle cannot reach Paused.
	err := c.Pause()
	require.Error(t, err)
}

func TestController_EmergencyStopHaltsCycle(t *testing.T) {
	c, machine, _ := newTestController(t)

	require.NoError(t, c.Start(context.Background()))
	waitForState(t, machine, state.StateScanning)

	c.EmergencyStop("operator_panic")

	err := c.Wait()
	require.Error(t, err, "emergency halt surfaces as a fatal run error")
	assert.Equal(t, state.StateEmergency, machine.CurrentState())
}

func TestController_ResetKillSwitchRequiresStoppedCycle(t *testing.T) {
	c, machine, riskMgr := newTestController(t)

	require.NoError(t, c.Start(context.Background()))
	waitForState(t, machine, state.StateScanning)

	err := c.ResetKillSwitch()
	require.Error(t, err, "reset must be refused while the cycle runs")

	require.NoError(t, c.Stop())

	// Latch, then clear.
	riskMgr.CheckRiskLimits(10000, nil)
	riskMgr.CheckRiskLimits(8000, nil)
	require.True(t, riskMgr.KillSwitchTriggered())

	require.NoError(t, c.ResetKillSwitch())
	assert.False(t, riskMgr.KillSwitchTriggered())
	assert.Equal(t, state.StateIdle, machine.CurrentState())
}

func TestController_AvailableCommands(t *testing.T) {
	c, machine, _ := newTestController(t)

	cmds := c.AvailableCommands()
	assert.Contains(t, cmds, CommandStart)
	assert.NotContains(t, cmds, CommandStop)

	require.NoError(t, c.Start(context.Background()))
	waitForState(t, machine, state.StateScanning)

	cmds = c.AvailableCommands()
	assert.Contains(t, cmds, CommandStop)
	assert.Contains(t, cmds, CommandPause)
	assert.Contains(t, cmds, CommandEmergencyStop)
	assert.NotContains(t, cmds, CommandStart)

	require.NoError(t, c.Pause())
	cmds = c.AvailableCommands()
	assert.Contains(t, cmds, CommandResume)

	require.NoError(t, c.Stop())
}
