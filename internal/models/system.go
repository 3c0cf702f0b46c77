package models

import "time"

// Health is the /health response body.
type Health struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
}

// SystemStatus reports per-service health and live counters. It is served by
// the status endpoint and broadcast as system_status data.
type SystemStatus struct {
	Timestamp string            `json:"timestamp"`
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Metrics   StatusMetrics     `json:"metrics"`
}

type StatusMetrics struct {
	ActiveConnections     int        `json:"active_connections"`
	MQTTMessagesReceived  int64      `json:"mqtt_messages_received"`
	MQTTMessagesProcessed int64      `json:"mqtt_messages_processed"`
	MQTTErrors            int64      `json:"mqtt_errors"`
	LastMessageTime       *time.Time `json:"last_message_time,omitempty"`
}
