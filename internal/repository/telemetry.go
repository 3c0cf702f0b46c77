package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"twin-gateway/internal/models"
)

var ErrNotFound = errors.New("not found")

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// TelemetryRecord is a persisted telemetry row.
type TelemetryRecord struct {
	ID string `json:"id"`
	models.TelemetryEvent
	CreatedAt time.Time `json:"created_at"`
}

// TelemetryFilter narrows ListByAsset. Zero times are ignored.
type TelemetryFilter struct {
	Start time.Time
	End   time.Time
	Limit int
}

// TelemetryRepository persists telemetry rows and asset liveness in PostgreSQL.
type TelemetryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTelemetryRepository creates a repository over db.
func NewTelemetryRepository(db *sql.DB, logger *zap.Logger) *TelemetryRepository {
	return &TelemetryRepository{
		db:     db,
		logger: logger,
	}
}

// Insert stores ev and returns the new row id.
func (r *TelemetryRepository) Insert(ctx context.Context, ev models.TelemetryEvent) (string, error) {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	if ev.Metadata == nil {
		metadata = []byte("{}")
	}

	id := uuid.New().String()
	query := `
		INSERT INTO telemetry (
			id, asset_id, timestamp,
			temperature, humidity, pressure, vibration, power_consumption,
			status, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		id,
		ev.AssetID,
		ev.Timestamp.UTC(),
		ev.Temperature,
		ev.Humidity,
		ev.Pressure,
		ev.Vibration,
		ev.PowerConsumption,
		string(ev.Status),
		string(metadata),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return id, nil
}

// TouchLastSeen advances assets.last_seen to ts and marks the asset online.
// Older timestamps never move last_seen backwards. It reports whether a row
// was updated.
func (r *TelemetryRepository) TouchLastSeen(ctx context.Context, assetID string, ts time.Time) (bool, error) {
	query := `
		UPDATE assets
		SET last_seen = $2, status = 'online', updated_at = NOW()
		WHERE asset_id = $1
		  AND (last_seen IS NULL OR last_seen < $2)
	`
	res, err := r.db.ExecContext(ctx, query, assetID, ts.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to update last_seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// ListByAsset returns telemetry for assetID, newest first.
func (r *TelemetryRepository) ListByAsset(ctx context.Context, assetID string, filter TelemetryFilter) ([]TelemetryRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	where := []string{"asset_id = $1"}
	args := []any{assetID}
	if !filter.Start.IsZero() {
		args = append(args, filter.Start.UTC())
		where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !filter.End.IsZero() {
		args = append(args, filter.End.UTC())
		where = append(where, fmt.Sprintf("timestamp <= $%d", len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT
			id, asset_id, timestamp,
			temperature, humidity, pressure, vibration, power_consumption,
			status, metadata, created_at
		FROM telemetry
		WHERE %s
		ORDER BY timestamp DESC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var out []TelemetryRecord
	for rows.Next() {
		var (
			rec                          TelemetryRecord
			temp, hum, press, vib, power sql.NullFloat64
			status                       string
			metadata                     []byte
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.AssetID,
			&rec.Timestamp,
			&temp, &hum, &press, &vib, &power,
			&status,
			&metadata,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry: %w", err)
		}
		rec.Temperature = nullFloat(temp)
		rec.Humidity = nullFloat(hum)
		rec.Pressure = nullFloat(press)
		rec.Vibration = nullFloat(vib)
		rec.PowerConsumption = nullFloat(power)
		rec.Status = models.AssetStatus(status)
		rec.Metadata = map[string]any{}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				r.logger.Warn("Invalid telemetry metadata",
					zap.String("id", rec.ID),
					zap.Error(err),
				)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate telemetry: %w", err)
	}
	return out, nil
}

// Ping checks database connectivity.
func (r *TelemetryRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
