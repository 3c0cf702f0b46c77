package models

import "time"

// Outbound envelope types.
const (
	TypeTelemetry    = "telemetry"
	TypeAlert        = "alert"
	TypeAssetStatus  = "asset_status"
	TypeSystemStatus = "system_status"
)

// Control message types, both directions.
const (
	TypeSubscribe               = "subscribe"
	TypeUnsubscribe             = "unsubscribe"
	TypePing                    = "ping"
	TypeSubscriptionConfirmed   = "subscription_confirmed"
	TypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	TypePong                    = "pong"
	TypeError                   = "error"
)

// TimeFormat is the ISO-8601 layout used on the wire.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Envelope is the outbound broadcast frame.
type Envelope struct {
	Type      string `json:"type"`
	AssetID   string `json:"asset_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Status    string `json:"status,omitempty"`
	Details   any    `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ClientMessage is an inbound control frame.
type ClientMessage struct {
	Type    string `json:"type"`
	AssetID string `json:"asset_id,omitempty"`
}

// Reply is sent back to a single client in response to a control frame.
type Reply struct {
	Type      string `json:"type"`
	AssetID   string `json:"asset_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// FormatTime renders t in UTC using TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}
