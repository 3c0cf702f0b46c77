package models

import (
	"encoding/json"
	"time"
)

// Direction says which bound an alert violated.
type Direction string

const (
	BelowMinimum Direction = "below_minimum"
	AboveMaximum Direction = "above_maximum"
)

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertTypeThreshold marks alerts derived from the threshold table.
const AlertTypeThreshold = "threshold_violation"

// AlertEvent is either derived from a threshold violation or received from a
// device on the alerts topic.
type AlertEvent struct {
	ID        string         `json:"alert_id"`
	AssetID   string         `json:"asset_id"`
	Type      string         `json:"type,omitempty"`
	Metric    Metric         `json:"metric,omitempty"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Direction Direction      `json:"direction,omitempty"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

var alertKeys = map[string]struct{}{
	"alert_id": {}, "asset_id": {}, "type": {}, "metric": {}, "value": {}, "threshold": {},
	"direction": {}, "severity": {}, "message": {}, "timestamp": {}, "metadata": {},
}

// DecodeAlert parses a device-originated alert. A non-empty assetID overrides
// the payload's asset_id.
func DecodeAlert(raw []byte, assetID string, now time.Time) (AlertEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return AlertEvent{}, err
	}
	var wire struct {
		ID        string          `json:"alert_id"`
		AssetID   string          `json:"asset_id"`
		Type      string          `json:"type"`
		Metric    Metric          `json:"metric"`
		Value     float64         `json:"value"`
		Threshold float64         `json:"threshold"`
		Direction Direction       `json:"direction"`
		Severity  Severity        `json:"severity"`
		Message   string          `json:"message"`
		Timestamp json.RawMessage `json:"timestamp"`
		Metadata  map[string]any  `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return AlertEvent{}, err
	}

	a := AlertEvent{
		ID:        wire.ID,
		AssetID:   wire.AssetID,
		Type:      wire.Type,
		Metric:    wire.Metric,
		Value:     wire.Value,
		Threshold: wire.Threshold,
		Direction: wire.Direction,
		Severity:  wire.Severity,
		Message:   wire.Message,
		Metadata:  wire.Metadata,
	}
	if assetID != "" {
		a.AssetID = assetID
	}
	if a.Severity == "" {
		a.Severity = SeverityWarning
	}
	ts, ok, err := ParseTimestamp(wire.Timestamp)
	if err != nil {
		return AlertEvent{}, err
	}
	if !ok {
		ts = now
	}
	a.Timestamp = ts.UTC()

	for k, v := range fields {
		if _, known := alertKeys[k]; known {
			continue
		}
		if a.Metadata == nil {
			a.Metadata = map[string]any{}
		}
		var val any
		if err := json.Unmarshal(v, &val); err == nil {
			a.Metadata[k] = val
		}
	}
	return a, nil
}
