// Package metrics exposes gateway counters and gauges to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"can-safety-gateway/internal/models"
)

// Metrics holds every gateway collector.
type Metrics struct {
	framesReceived   *prometheus.CounterVec
	framesForwarded  *prometheus.CounterVec
	txDecisions      *prometheus.CounterVec
	events           *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
	violations       *prometheus.CounterVec
	controlsAllowed  prometheus.Gauge
	relayMalfunction prometheus.Gauge
	decisionLatency  prometheus.Histogram
	busUp            *prometheus.GaugeVec
	busErrors        *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_frames_received_total",
			Help: "Frames received per bus, by authentication result.",
		}, []string{"bus", "authentic"}),
		framesForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_frames_forwarded_total",
			Help: "Frames mirrored between buses.",
		}, []string{"from", "to"}),
		txDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tx_requests_total",
			Help: "Transmit requests by verdict.",
		}, []string{"verdict"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_safety_events_total",
			Help: "Safety engine events by kind.",
		}, []string{"kind"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Frames that failed authentication, by failed checks.",
		}, []string{"reason"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_actuation_violations_total",
			Help: "Rejected actuation commands by violated limit.",
		}, []string{"reason"}),
		controlsAllowed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_controls_allowed",
			Help: "1 while actuation is engaged.",
		}),
		relayMalfunction: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_relay_malfunction",
			Help: "1 while a relay malfunction is latched.",
		}),
		decisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_decision_latency_seconds",
			Help:    "Time from frame arrival to verdict.",
			Buckets: prometheus.ExponentialBuckets(0.000005, 2, 12),
		}),
		busUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_bus_up",
			Help: "1 while the interface is up and not bus-off.",
		}, []string{"bus", "interface"}),
		busErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_bus_error_counter",
			Help: "Controller error counters.",
		}, []string{"bus", "interface", "direction"}),
	}

	reg.MustRegister(
		m.framesReceived, m.framesForwarded, m.txDecisions, m.events,
		m.authFailures, m.violations, m.controlsAllowed, m.relayMalfunction,
		m.decisionLatency, m.busUp, m.busErrors,
	)
	return m
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// FrameReceived counts one received frame.
func (m *Metrics) FrameReceived(bus int, authentic bool) {
	m.framesReceived.WithLabelValues(strconv.Itoa(bus), strconv.FormatBool(authentic)).Inc()
}

// FrameForwarded counts one mirrored frame.
func (m *Metrics) FrameForwarded(from, to int) {
	m.framesForwarded.WithLabelValues(strconv.Itoa(from), strconv.Itoa(to)).Inc()
}

// TxDecision counts one transmit verdict.
func (m *Metrics) TxDecision(allowed bool) {
	verdict := "blocked"
	if allowed {
		verdict = "allowed"
	}
	m.txDecisions.WithLabelValues(verdict).Inc()
}

// ObserveDecision records how long a verdict took.
func (m *Metrics) ObserveDecision(seconds float64) {
	m.decisionLatency.Observe(seconds)
}

// Event counts a safety event.
func (m *Metrics) Event(e models.SafetyEvent) {
	m.events.WithLabelValues(e.Kind).Inc()
	switch e.Kind {
	case "auth_failure":
		m.authFailures.WithLabelValues(e.Reason).Inc()
	case "violation":
		m.violations.WithLabelValues(e.Reason).Inc()
	}
}

// SetEngagement publishes the engagement state.
func (m *Metrics) SetEngagement(controlsAllowed, relayMalfunction bool) {
	m.controlsAllowed.Set(boolFloat(controlsAllowed))
	m.relayMalfunction.Set(boolFloat(relayMalfunction))
}

// SetBusStats publishes interface health.
func (m *Metrics) SetBusStats(s models.SocketCANStats) {
	bus := strconv.Itoa(s.Bus)
	m.busUp.WithLabelValues(bus, s.Interface).Set(boolFloat(s.BusHealthy()))
	m.busErrors.WithLabelValues(bus, s.Interface, "rx").Set(float64(s.RXErrorCounter))
	m.busErrors.WithLabelValues(bus, s.Interface, "tx").Set(float64(s.TXErrorCounter))
}
