package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "twin"

// Metrics holds the gateway's Prometheus collectors. Every method is safe on
// a nil receiver so components can run without metrics in tests.
type Metrics struct {
	mqttMessages      *prometheus.CounterVec
	alerts            *prometheus.CounterVec
	sinkErrors        *prometheus.CounterVec
	wsMessages        *prometheus.CounterVec
	wsConnections     prometheus.Counter
	wsDisconnections  *prometheus.CounterVec
	wsActive          prometheus.Gauge
	broadcastDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mqttMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "messages_total",
			Help:      "Inbound broker messages by category and result",
		}, []string{"category", "result"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Threshold alerts raised by metric and severity",
		}, []string{"metric", "severity"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Telemetry sink failures by operation",
		}, []string{"operation"}),
		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "messages_total",
			Help:      "WebSocket frames by direction and type",
		}, []string{"direction", "type"}),
		wsConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "WebSocket connections accepted",
		}),
		wsDisconnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "disconnections_total",
			Help:      "WebSocket disconnections by reason",
		}, []string{"reason"}),
		wsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Currently registered WebSocket connections",
		}),
		broadcastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Time to fan one event out to every recipient",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.mqttMessages,
		m.alerts,
		m.sinkErrors,
		m.wsMessages,
		m.wsConnections,
		m.wsDisconnections,
		m.wsActive,
		m.broadcastDuration,
	)
	return m
}

func (m *Metrics) MQTTMessage(category, result string) {
	if m == nil {
		return
	}
	m.mqttMessages.WithLabelValues(category, result).Inc()
}

func (m *Metrics) Alert(metric, severity string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(metric, severity).Inc()
}

func (m *Metrics) SinkError(operation string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.wsMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) WSMessages(direction, msgType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.wsMessages.WithLabelValues(direction, msgType).Add(float64(n))
}

func (m *Metrics) Connected() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
	m.wsActive.Inc()
}

func (m *Metrics) Disconnected(reason string) {
	if m == nil {
		return
	}
	m.wsDisconnections.WithLabelValues(reason).Inc()
	m.wsActive.Dec()
}

// ObserveBroadcast records the time since start for msgType.
func (m *Metrics) ObserveBroadcast(msgType string, start time.Time) {
	if m == nil {
		return
	}
	m.broadcastDuration.WithLabelValues(msgType).Observe(time.Since(start).Seconds())
}
