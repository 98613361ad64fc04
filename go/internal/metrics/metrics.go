package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "matchday"

// Metrics holds the client-side collectors. A nil *Metrics is valid and
// records nothing, so components can run without a registry.
type Metrics struct {
	RefreshTotal         *prometheus.CounterVec
	PushFramesTotal      *prometheus.CounterVec
	DeliveriesTotal      *prometheus.CounterVec
	CoalescedTotal       *prometheus.CounterVec
	ReconnectAttempts    prometheus.Counter
	ConnectionState      prometheus.Gauge
	ProtocolStateErrors  *prometheus.CounterVec
	ValidationRejections *prometheus.CounterVec
	SubscriptionWarnings *prometheus.CounterVec
	RelayPublishFailures prometheus.Counter
}

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refresh_total",
			Help:      "Token refresh network calls by outcome.",
		}, []string{"outcome"}),
		PushFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "frames_received_total",
			Help:      "Push frames received by topic.",
		}, []string{"topic"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "deliveries_total",
			Help:      "Callback invocations by topic and mode (immediate or debounced).",
		}, []string{"topic", "mode"}),
		CoalescedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "coalesced_total",
			Help:      "Events dropped because a newer one arrived within the debounce window.",
		}, []string{"topic"}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnect attempts made by the push socket.",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connection_state",
			Help:      "Current connection state (0 idle, 1 connecting, 2 connected, 3 disconnected, 4 errored).",
		}),
		ProtocolStateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "match",
			Name:      "protocol_state_errors_total",
			Help:      "Illegal report/accept/dispute attempts by operation.",
		}, []string{"operation"}),
		ValidationRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "match",
			Name:      "validation_rejections_total",
			Help:      "Score reports rejected locally by match format.",
		}, []string{"format"}),
		SubscriptionWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "subscription_warnings_total",
			Help:      "Join or leave calls issued without an active connection.",
		}, []string{"action"}),
		RelayPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "publish_failures_total",
			Help:      "Events that could not be relayed to NATS.",
		}),
	}

	reg.MustRegister(
		m.RefreshTotal,
		m.PushFramesTotal,
		m.DeliveriesTotal,
		m.CoalescedTotal,
		m.ReconnectAttempts,
		m.ConnectionState,
		m.ProtocolStateErrors,
		m.ValidationRejections,
		m.SubscriptionWarnings,
		m.RelayPublishFailures,
	)
	return m
}

func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PushFrame(topic string) {
	if m == nil {
		return
	}
	m.PushFramesTotal.WithLabelValues(topic).Inc()
}

func (m *Metrics) Delivered(topic, mode string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(topic, mode).Inc()
}

func (m *Metrics) Coalesced(topic string) {
	if m == nil {
		return
	}
	m.CoalescedTotal.WithLabelValues(topic).Inc()
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) SetConnectionState(state int) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(state))
}

func (m *Metrics) ProtocolStateError(operation string) {
	if m == nil {
		return
	}
	m.ProtocolStateErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) ValidationRejected(format string) {
	if m == nil {
		return
	}
	m.ValidationRejections.WithLabelValues(format).Inc()
}

func (m *Metrics) SubscriptionWarning(action string) {
	if m == nil {
		return
	}
	m.SubscriptionWarnings.WithLabelValues(action).Inc()
}

func (m *Metrics) RelayFailed() {
	if m == nil {
		return
	}
	m.RelayPublishFailures.Inc()
}
