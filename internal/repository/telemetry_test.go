package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"twin-gateway/internal/models"
)

func setupMockTelemetryDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *TelemetryRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewTelemetryRepository(db, zap.NewNop())
}

func fp(v float64) *float64 { return &v }

func TestInsert_Success(t *testing.T) {
	db, mock, repo := setupMockTelemetryDB(t)
	defer db.Close()

	ts := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ev := models.TelemetryEvent{
		AssetID:     "pump-1",
		Timestamp:   ts,
		Temperature: fp(21.5),
		Vibration:   fp(0.4),
		Status:      models.StatusOnline,
		Metadata:    map[string]any{"site": "north"},
	}

	mock.ExpectExec(`INSERT INTO telemetry`).
		WithArgs(sqlmock.AnyArg(), "pump-1", ts, 21.5, nil, nil, 0.4, nil, "online", `{"site":"north"}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := repo.Insert(context.Background(), ev)
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_NilMetadata(t *testing.T) {
	db, mock, repo := setupMockTelemetryDB(t)
	defer db.Close()

	ts := time.Now().UTC()
	mock.ExpectExec(`INSERT INTO telemetry`).
		WithArgs(sqlmock.AnyArg(), "a", ts, nil, nil, nil, nil, nil, "offline", `{}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := repo.Insert(context.Background(), models.TelemetryEvent{AssetID: "a", Timestamp: ts, Status: models.StatusOffline})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_Error(t *testing.T) {
	db, mock, repo := setupMockTelemetryDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO telemetry`).WillReturnError(errors.New("connection refused"))

	_, err := repo.Insert(context.Background(), models.TelemetryEvent{AssetID: "a", Timestamp: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert telemetry")
}

func TestTouchLastSeen(t *testing.T) {
	db, mock, repo := setupMockTelemetryDB(t)
	defer db.Close()

	ts := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE assets\s+SET last_seen = \$2, status = 'online'`).
		WithArgs("pump-1", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE assets`).
		WithArgs("pump-1", ts.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err := repo.TouchLastSeen(context.Background(), "pump-1", ts)
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = repo.TouchLastSeen(context.Background(), "pump-1", ts.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, updated, "older timestamp does not regress last_seen")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByAsset(t *testing.T) {
	db, mock, repo := setupMockTelemetryDB(t)
	defer db.Close()

	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	ts := start.Add(time.Hour)
	created := ts.Add(time.Second)

	rows := sqlmock.NewRows([]string{
		"id", "asset_id", "timestamp",
		"temperature", "humidity", "pressure", "vibration", "power_consumption",
		"status", "metadata", "created_at",
	}).
		AddRow("r1", "pump-1", ts, 22.0, nil, 101.3, nil, 12.5, "online", []byte(`{"site":"north"}`), created).
		AddRow("r2", "pump-1", start, nil, nil, nil, nil, nil, "warning", []byte(`not json`), created)

	mock.ExpectQuery(`SELECT .+ FROM telemetry\s+WHERE asset_id = \$1 AND timestamp >= \$2\s+ORDER BY timestamp DESC\s+LIMIT \$3`).
		WithArgs("pump-1", start, 10).
		WillReturnRows(rows)

	recs, err := repo.ListByAsset(context.Background(), "pump-1", TelemetryFilter{Start: start, Limit: 10})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "r1", recs[0].ID)
	assert.Equal(t, 22.0, *recs[0].Temperature)
	assert.Nil(t, recs[0].Humidity)
	assert.Equal(t, 12.5, *recs[0].PowerConsumption)
	assert.Equal(t, "north", recs[0].Metadata["site"])
	assert.Equal(t, models.StatusWarning, recs[1].Status)
	assert.Empty(t, recs[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByAsset_LimitClamp(t *testing.T) {
	db, mock, repo := setupMockTelemetryDB(t)
	defer db.Close()

	end := time.Now().UTC()
	mock.ExpectQuery(`WHERE asset_id = \$1 AND timestamp <= \$2`).
		WithArgs("a", end, MaxListLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	recs, err := repo.ListByAsset(context.Background(), "a", TelemetryFilter{End: end, Limit: 50000})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
