package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/quanttide/breakout-bot/internal/events"
	"github.com/quanttide/breakout-bot/internal/state"
)

var startTime = time.Now()

// HealthChecker tracks liveness signals from the event stream and
// serves them as a JSON health endpoint.
type HealthChecker struct {
	mu            sync.RWMutex
	currentState  string
	lastEvent     time.Time
	lastError     string
	killSwitch    bool
	staleDeadline time.Duration
}

// HealthStatus is the healthz response body.
type HealthStatus struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	CurrentState string    `json:"current_state"`
	LastEvent    time.Time `json:"last_event"`
	KillSwitch   bool      `json:"kill_switch"`
	Uptime       string    `json:"uptime"`
	LastError    string    `json:"last_error,omitempty"`
}

// NewHealthChecker creates a checker that reports degraded when no
// event has been seen within the stale deadline.
func NewHealthChecker(staleDeadline time.Duration) *HealthChecker {
	if staleDeadline <= 0 {
		staleDeadline = time.Minute
	}
	return &HealthChecker{
		currentState:  state.StateIdle.String(),
		staleDeadline: staleDeadline,
	}
}

// RecordEvent keeps the liveness view current. Register it on the bus.
func (h *HealthChecker) RecordEvent(e events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastEvent = time.Now()
	switch e.Type {
	case events.TypeTransition:
		h.currentState = e.ToState
	case events.TypePhaseError:
		h.lastError = e.Reason
	}
}

// SetKillSwitch mirrors the latched kill switch into the health view.
func (h *HealthChecker) SetKillSwitch(active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killSwitch = active
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK

	if !h.lastEvent.IsZero() && time.Since(h.lastEvent) > h.staleDeadline {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if h.killSwitch || h.currentState == state.StateEmergency.String() {
		status = "unhealthy"
		code = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(HealthStatus{
		Status:       status,
		Timestamp:    time.Now(),
		CurrentState: h.currentState,
		LastEvent:    h.lastEvent,
		KillSwitch:   h.killSwitch,
		Uptime:       time.Since(startTime).String(),
		LastError:    h.lastError,
	})
}
