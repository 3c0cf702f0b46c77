package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTelemetry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev, err := DecodeTelemetry([]byte(`{"asset_id":"pump-1","temperature":21.5,"firmware":"1.2","metadata":{"site":"north"}}`), "", now)
	require.NoError(t, err)
	assert.Equal(t, "pump-1", ev.AssetID)
	assert.Equal(t, now, ev.Timestamp)
	assert.Equal(t, StatusOnline, ev.Status)
	v, ok := ev.Value(MetricTemperature)
	assert.True(t, ok)
	assert.Equal(t, 21.5, v)
	_, ok = ev.Value(MetricHumidity)
	assert.False(t, ok)
	assert.Equal(t, "north", ev.Metadata["site"])
	assert.Equal(t, "1.2", ev.Metadata["firmware"], "unknown keys are kept as metadata")
}

func TestDecodeTelemetry_AssetIDOverride(t *testing.T) {
	ev, err := DecodeTelemetry([]byte(`{"asset_id":"payload-id"}`), "topic-id", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "topic-id", ev.AssetID)

	_, err = DecodeTelemetry([]byte(`{"temperature":1}`), "", time.Now())
	assert.ErrorIs(t, err, ErrMissingAssetID)
}

func TestDecodeTelemetry_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":      `not json`,
		"not an object": `[1,2]`,
		"no asset id":   `{"temperature":1}`,
		"numeric id":    `{"asset_id":7}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTelemetry([]byte(raw), "", time.Now())
			assert.Error(t, err)
		})
	}
}

func TestDecodeTelemetry_NonNumericMetricSkipped(t *testing.T) {
	ev, err := DecodeTelemetry([]byte(`{"asset_id":"a","temperature":"hot","humidity":50,"pressure":null,"vibration":true}`), "", time.Now())
	require.NoError(t, err)

	_, ok := ev.Value(MetricTemperature)
	assert.False(t, ok)
	_, ok = ev.Value(MetricPressure)
	assert.False(t, ok)
	_, ok = ev.Value(MetricVibration)
	assert.False(t, ok)
	v, ok := ev.Value(MetricHumidity)
	require.True(t, ok)
	assert.Equal(t, 50.0, v)

	assert.Equal(t, "hot", ev.Metadata["temperature"])
	assert.Equal(t, true, ev.Metadata["vibration"])
	assert.NotContains(t, ev.Metadata, "pressure")
}

func TestDecodeTelemetry_StatusAndTimestampFallback(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev, err := DecodeTelemetry([]byte(`{"asset_id":"a","status":"sleeping","timestamp":"yesterday","humidity":40}`), "", now)
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, ev.Status)
	assert.Equal(t, now, ev.Timestamp)
	assert.Equal(t, "sleeping", ev.Metadata["raw_status"])
	assert.Equal(t, "yesterday", ev.Metadata["raw_timestamp"])

	ev, err = DecodeTelemetry([]byte(`{"asset_id":"a","status":"warning","timestamp":"2026-02-01T00:00:00Z"}`), "", now)
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, ev.Status)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), ev.Timestamp)
	assert.Empty(t, ev.Metadata)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	for _, raw := range []string{
		`"2024-05-06T07:08:09Z"`,
		`"2024-05-06T09:08:09+02:00"`,
		`"2024-05-06T07:08:09"`,
		`"2024-05-06 07:08:09"`,
		`1714979289`,
	} {
		ts, ok, err := ParseTimestamp(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.True(t, ok)
		assert.True(t, want.Equal(ts), raw)
	}

	_, ok, err := ParseTimestamp(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeStatus(t *testing.T) {
	ev, err := DecodeStatus([]byte(`{"status":"maintenance","reason":"scheduled"}`), "pump-1")
	require.NoError(t, err)
	assert.Equal(t, "pump-1", ev.AssetID)
	assert.Equal(t, "maintenance", ev.Status)
	assert.Equal(t, "scheduled", ev.Details["reason"])

	ev, err = DecodeStatus([]byte(`{}`), "pump-1")
	require.NoError(t, err)
	assert.Equal(t, "unknown", ev.Status)
}

func TestDecodeAlert(t *testing.T) {
	a, err := DecodeAlert([]byte(`{"message":"door open","severity":"critical","zone":3}`), "cab-7", time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, "cab-7", a.AssetID)
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, "door open", a.Message)
	assert.Equal(t, float64(3), a.Metadata["zone"])
}
