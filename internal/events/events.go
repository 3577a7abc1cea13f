package events

import "time"

// Type identifies the kind of event emitted by the orchestration core.
type Type string

const (
	TypeTransition   Type = "transition"
	TypeRiskDecision Type = "risk_decision"
	TypeOrder        Type = "order"
	TypePhaseError   Type = "phase_error"
	TypeControl      Type = "control"
)

// Event is the structured record published for every state transition,
// risk decision, order submission and phase failure. Consumers subscribe
// through the Bus and never influence control flow.
type Event struct {
	SessionID string                 `json:"session_id"`
	Type      Type                   `json:"type"`
	Phase     string                 `json:"phase"`
	FromState string                 `json:"from_state,omitempty"`
	ToState   string                 `json:"to_state,omitempty"`
	Reason    string                 `json:"reason"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}
