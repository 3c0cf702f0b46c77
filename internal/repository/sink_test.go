package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"twin-gateway/internal/models"
)

type fakeTelemetryStore struct {
	inserted []models.TelemetryEvent
	touched  []time.Time
	err      error
}

func (f *fakeTelemetryStore) Insert(_ context.Context, ev models.TelemetryEvent) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.inserted = append(f.inserted, ev)
	return "row-1", nil
}

func (f *fakeTelemetryStore) TouchLastSeen(_ context.Context, _ string, ts time.Time) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.touched = append(f.touched, ts)
	return true, nil
}

type fakeLastSeen struct {
	calls int
	err   error
}

func (f *fakeLastSeen) Advance(context.Context, string, time.Time) (bool, error) {
	f.calls++
	return f.err == nil, f.err
}

func TestSink_UpdateLastSeenAttemptsBoth(t *testing.T) {
	dbErr := errors.New("db down")
	cacheErr := errors.New("redis down")
	store := &fakeTelemetryStore{err: dbErr}
	ls := &fakeLastSeen{err: cacheErr}
	s := NewSink(store, ls, nil, zap.NewNop())

	err := s.UpdateLastSeen(context.Background(), "a", time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.ErrorIs(t, err, cacheErr)
	assert.Equal(t, 1, ls.calls)
}

func TestSink_WriteAndAlert(t *testing.T) {
	_, rdb := setupRedis(t)
	store := &fakeTelemetryStore{}
	alerts := NewAlertStream(rdb, "alerts", 0, zap.NewNop())
	s := NewSink(store, &fakeLastSeen{}, alerts, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, models.TelemetryEvent{AssetID: "a"}))
	assert.Len(t, store.inserted, 1)

	require.NoError(t, s.UpdateLastSeen(ctx, "a", time.Unix(10, 0)))
	assert.Len(t, store.touched, 1)

	require.NoError(t, s.WriteAlert(ctx, models.AlertEvent{AssetID: "a", Severity: models.SeverityWarning}))
	recent, err := alerts.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
