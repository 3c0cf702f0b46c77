package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.MQTTMessage("telemetry", "ok")
	m.MQTTMessage("telemetry", "ok")
	m.Alert("temperature", "critical")
	m.Connected()
	m.Connected()
	m.Disconnected("send_failed")
	m.WSMessages("out", "telemetry", 3)
	m.ObserveBroadcast("telemetry", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.mqttMessages.WithLabelValues("telemetry", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("temperature", "critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.wsConnections))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.wsMessages.WithLabelValues("out", "telemetry")))

	n, err := testutil.GatherAndCount(reg, "twin_broadcast_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MQTTMessage("telemetry", "ok")
		m.Alert("x", "warning")
		m.SinkError("write")
		m.WSMessage("in", "ping")
		m.Connected()
		m.Disconnected("closed")
		m.ObserveBroadcast("alert", time.Now())
	})
}
