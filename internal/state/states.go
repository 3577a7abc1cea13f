package state

// TradingState represents one stage of the trading lifecycle.
type TradingState string

const (
	StateIdle          TradingState = "idle"
	StateInitializing  TradingState = "initializing"
	StateScanning      TradingState = "scanning"
	StateLevelBuilding TradingState = "level_building"
	StateSignalWait    TradingState = "signal_wait"
	StateSizing        TradingState = "sizing"
	StateExecution     TradingState = "execution"
	StateManaging      TradingState = "managing"
	StatePaused        TradingState = "paused"
	StateError         TradingState = "error"
	StateEmergency     TradingState = "emergency"
	StateStopped       TradingState = "stopped"
)

func (s TradingState) String() string {
	return string(s)
}

// IsTerminal reports whether the state blocks automatic progression.
// Emergency and Stopped only leave via an external reset or start command.
func (s TradingState) IsTerminal() bool {
	return s == StateEmergency || s == StateStopped
}

// escapeStates are reachable from every non-terminal state.
var escapeStates = []TradingState{StateError, StateEmergency, StateStopped}

// validTransitions is the single source of truth for lifecycle progression.
// Built once at package init; never mutated afterwards.
var validTransitions = buildTransitionTable()

func buildTransitionTable() map[TradingState]map[TradingState]struct{} {
	base := map[TradingState][]TradingState{
		StateIdle:          {StateInitializing},
		StateInitializing:  {StateScanning, StatePaused},
		StateScanning:      {StateLevelBuilding, StateManaging, StatePaused},
		StateLevelBuilding: {StateSignalWait, StateScanning, StatePaused},
		StateSignalWait:    {StateSizing, StateManaging, StateScanning, StatePaused},
		StateSizing:        {StateExecution, StateScanning, StatePaused},
		StateExecution:     {StateManaging, StateScanning, StatePaused},
		StateManaging:      {StateScanning, StatePaused},
		StatePaused:        {StateScanning, StateManaging, StateIdle},
		StateError:         {StateScanning, StateInitializing, StatePaused},
		StateEmergency:     {StateStopped, StateIdle},
		StateStopped:       {StateIdle, StateInitializing},
	}

	table := make(map[TradingState]map[TradingState]struct{}, len(base))
	for from, targets := range base {
		set := make(map[TradingState]struct{}, len(targets)+len(escapeStates))
		for _, to := range targets {
			set[to] = struct{}{}
		}
		if !from.IsTerminal() {
			for _, to := range escapeStates {
				if to != from {
					set[to] = struct{}{}
				}
			}
		}
		table[from] = set
	}
	return table
}

// AllStates returns the closed set of lifecycle states in progression order.
func AllStates() []TradingState {
	return []TradingState{
		StateIdle, StateInitializing, StateScanning, StateLevelBuilding,
		StateSignalWait, StateSizing, StateExecution, StateManaging,
		StatePaused, StateError, StateEmergency, StateStopped,
	}
}
