package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Metric names a numeric telemetry reading.
type Metric string

const (
	MetricTemperature      Metric = "temperature"
	MetricHumidity         Metric = "humidity"
	MetricPressure         Metric = "pressure"
	MetricVibration        Metric = "vibration"
	MetricPowerConsumption Metric = "power_consumption"
)

// Metrics lists every known metric in declaration order.
var Metrics = []Metric{
	MetricTemperature,
	MetricHumidity,
	MetricPressure,
	MetricVibration,
	MetricPowerConsumption,
}

// AssetStatus is the operational state reported with telemetry.
type AssetStatus string

const (
	StatusOnline  AssetStatus = "online"
	StatusOffline AssetStatus = "offline"
	StatusWarning AssetStatus = "warning"
	StatusError   AssetStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s AssetStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusWarning, StatusError:
		return true
	}
	return false
}

// TelemetryEvent is one decoded telemetry record. Keys in the inbound payload
// that are not modelled end up in Metadata.
type TelemetryEvent struct {
	AssetID          string         `json:"asset_id"`
	Timestamp        time.Time      `json:"timestamp"`
	Temperature      *float64       `json:"temperature,omitempty"`
	Humidity         *float64       `json:"humidity,omitempty"`
	Pressure         *float64       `json:"pressure,omitempty"`
	Vibration        *float64       `json:"vibration,omitempty"`
	PowerConsumption *float64       `json:"power_consumption,omitempty"`
	Status           AssetStatus    `json:"status"`
	Metadata         map[string]any `json:"metadata"`
}

// Value returns the reading for m and whether it was present.
func (e *TelemetryEvent) Value(m Metric) (float64, bool) {
	var p *float64
	switch m {
	case MetricTemperature:
		p = e.Temperature
	case MetricHumidity:
		p = e.Humidity
	case MetricPressure:
		p = e.Pressure
	case MetricVibration:
		p = e.Vibration
	case MetricPowerConsumption:
		p = e.PowerConsumption
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// ErrMissingAssetID is returned when a telemetry record has no asset id.
var ErrMissingAssetID = errors.New("asset_id is required")

var telemetryKeys = map[string]struct{}{
	"asset_id": {}, "timestamp": {}, "temperature": {}, "humidity": {}, "pressure": {},
	"vibration": {}, "power_consumption": {}, "status": {}, "metadata": {},
}

// DecodeTelemetry parses raw JSON into a TelemetryEvent. A non-empty assetID
// overrides the payload's asset_id. Only a malformed document or a missing
// asset id is an error; every other field degrades:
//   - a metric that is not a JSON number is left unset and its raw value is
//     kept in Metadata under the metric name
//   - a missing or unparseable timestamp becomes now (the raw value is kept as
//     raw_timestamp)
//   - a missing status is online; an unknown one is online with the raw value
//     kept as raw_status
func DecodeTelemetry(raw []byte, assetID string, now time.Time) (TelemetryEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return TelemetryEvent{}, err
	}

	ev := TelemetryEvent{AssetID: assetID, Metadata: map[string]any{}}
	if ev.AssetID == "" {
		_ = json.Unmarshal(fields["asset_id"], &ev.AssetID)
	}
	if ev.AssetID == "" {
		return TelemetryEvent{}, ErrMissingAssetID
	}

	if m, ok := fields["metadata"]; ok {
		var nested map[string]any
		if err := json.Unmarshal(m, &nested); err == nil && nested != nil {
			ev.Metadata = nested
		} else {
			keepRaw(ev.Metadata, "metadata", m)
		}
	}

	for _, m := range Metrics {
		v, ok := fields[string(m)]
		if !ok {
			continue
		}
		if f, isNumber := jsonNumber(v); isNumber {
			ev.setValue(m, f)
			continue
		}
		keepRaw(ev.Metadata, string(m), v)
	}

	ev.Status = StatusOnline
	if v, ok := fields["status"]; ok {
		var st AssetStatus
		if err := json.Unmarshal(v, &st); err == nil && st.Valid() {
			ev.Status = st
		} else if string(v) != "null" && string(v) != `""` {
			keepRaw(ev.Metadata, "raw_status", v)
		}
	}

	ev.Timestamp = now.UTC()
	if ts, ok, err := ParseTimestamp(fields["timestamp"]); err != nil {
		keepRaw(ev.Metadata, "raw_timestamp", fields["timestamp"])
	} else if ok {
		ev.Timestamp = ts.UTC()
	}

	for k, v := range fields {
		if _, known := telemetryKeys[k]; known {
			continue
		}
		if _, taken := ev.Metadata[k]; taken {
			continue
		}
		keepRaw(ev.Metadata, k, v)
	}
	return ev, nil
}

// jsonNumber reports whether raw is a JSON number and returns its value.
func jsonNumber(raw json.RawMessage) (float64, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func keepRaw(md map[string]any, key string, raw json.RawMessage) {
	var v any
	if err := json.Unmarshal(raw, &v); err == nil && v != nil {
		md[key] = v
	}
}

func (e *TelemetryEvent) setValue(m Metric, v float64) {
	switch m {
	case MetricTemperature:
		e.Temperature = &v
	case MetricHumidity:
		e.Humidity = &v
	case MetricPressure:
		e.Pressure = &v
	case MetricVibration:
		e.Vibration = &v
	case MetricPowerConsumption:
		e.PowerConsumption = &v
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts an ISO-8601 string (zone optional, UTC assumed) or a
// unix epoch in seconds. ok is false when raw is empty or null.
func ParseTimestamp(raw json.RawMessage) (ts time.Time, ok bool, err error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		f, perr := strconv.ParseFloat(string(raw), 64)
		if perr != nil {
			return time.Time{}, false, fmt.Errorf("invalid timestamp %s", raw)
		}
		sec := int64(f)
		nsec := int64((f - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), true, nil
	}
	if s == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("invalid timestamp %q", s)
}
