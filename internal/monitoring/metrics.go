package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quanttide/breakout-bot/internal/events"
)

var (
	// Lifecycle metrics
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_bot_state_transitions_total",
			Help: "Total number of accepted state transitions",
		},
		[]string{"from", "to"},
	)

	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breakout_bot_current_state",
			Help: "Current lifecycle state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	// Risk metrics
	riskDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_bot_risk_decisions_total",
			Help: "Total number of signal risk evaluations by outcome",
		},
		[]string{"decision"},
	)

	dailyRiskUsedPct = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakout_bot_daily_risk_used_pct",
			Help: "Fraction of the daily risk budget consumed",
		},
	)

	killSwitchActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakout_bot_kill_switch_active",
			Help: "1 when the kill switch is latched",
		},
	)

	openPositionsCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakout_bot_open_positions",
			Help: "Number of open positions",
		},
	)

	// Execution metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_bot_orders_total",
			Help: "Total number of orders placed",
		},
		[]string{"symbol", "side"},
	)

	// Error metrics
	phaseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_bot_phase_errors_total",
			Help: "Total number of phase failures",
		},
		[]string{"phase"},
	)
)

func init() {
	prometheus.MustRegister(transitionsTotal)
	prometheus.MustRegister(currentState)
	prometheus.MustRegister(riskDecisionsTotal)
	prometheus.MustRegister(dailyRiskUsedPct)
	prometheus.MustRegister(killSwitchActive)
	prometheus.MustRegister(openPositionsCount)
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(phaseErrorsTotal)
}

// MetricsHandler serves the Prometheus scrape endpoint.
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// SetCurrentState marks one lifecycle state as active. Called at wiring
// time so the starting state is visible before the first transition.
func SetCurrentState(stateName string) {
	currentState.Reset()
	currentState.WithLabelValues(stateName).Set(1)
}

// RecordEvent updates metrics from one core event. It is registered on
// the event bus and must stay cheap: it runs on the publishing goroutine.
func RecordEvent(e events.Event) {
	switch e.Type {
	case events.TypeTransition:
		transitionsTotal.WithLabelValues(e.FromState, e.ToState).Inc()
		currentState.WithLabelValues(e.FromState).Set(0)
		currentState.WithLabelValues(e.ToState).Set(1)
	case events.TypeRiskDecision:
		decision := e.Reason
		if approved, ok := e.Metadata["approved"].(bool); ok && approved {
			decision = "approved"
		}
		riskDecisionsTotal.WithLabelValues(decision).Inc()
	case events.TypeOrder:
		symbol, _ := e.Metadata["symbol"].(string)
		side, _ := e.Metadata["side"].(string)
		ordersTotal.WithLabelValues(symbol, side).Inc()
	case events.TypePhaseError:
		phaseErrorsTotal.WithLabelValues(e.Phase).Inc()
	}
}

// UpdateRisk refreshes the risk gauges from the latest limit check.
func UpdateRisk(dailyUsedPct float64, killSwitch bool, openPositions int) {
	dailyRiskUsedPct.Set(dailyUsedPct)
	if killSwitch {
		killSwitchActive.Set(1)
	} else {
		killSwitchActive.Set(0)
	}
	openPositionsCount.Set(float64(openPositions))
}
