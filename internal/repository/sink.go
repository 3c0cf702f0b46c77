package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"twin-gateway/internal/models"
)

// TelemetryStore persists telemetry rows.
type TelemetryStore interface {
	Insert(ctx context.Context, ev models.TelemetryEvent) (string, error)
	TouchLastSeen(ctx context.Context, assetID string, ts time.Time) (bool, error)
}

// LastSeenStore tracks the newest timestamp per asset.
type LastSeenStore interface {
	Advance(ctx context.Context, assetID string, ts time.Time) (bool, error)
}

// AlertPublisher hands alerts to downstream consumers.
type AlertPublisher interface {
	Publish(ctx context.Context, alert models.AlertEvent) (string, error)
}

// Sink is the telemetry sink used by the ingestion pipeline: rows go to
// PostgreSQL, liveness to both PostgreSQL and the Redis index, alerts to a
// Redis stream.
type Sink struct {
	telemetry TelemetryStore
	lastSeen  LastSeenStore
	alerts    AlertPublisher
	logger    *zap.Logger
}

// NewSink composes the stores.
func NewSink(telemetry TelemetryStore, lastSeen LastSeenStore, alerts AlertPublisher, logger *zap.Logger) *Sink {
	return &Sink{
		telemetry: telemetry,
		lastSeen:  lastSeen,
		alerts:    alerts,
		logger:    logger,
	}
}

// Write persists ev.
func (s *Sink) Write(ctx context.Context, ev models.TelemetryEvent) error {
	id, err := s.telemetry.Insert(ctx, ev)
	if err != nil {
		return err
	}
	s.logger.Debug("Telemetry stored", zap.String("asset_id", ev.AssetID), zap.String("id", id))
	return nil
}

// UpdateLastSeen advances the asset's last-seen time in both stores. Both are
// attempted; failures are joined.
func (s *Sink) UpdateLastSeen(ctx context.Context, assetID string, ts time.Time) error {
	_, cacheErr := s.lastSeen.Advance(ctx, assetID, ts)
	_, dbErr := s.telemetry.TouchLastSeen(ctx, assetID, ts)
	return errors.Join(cacheErr, dbErr)
}

// WriteAlert publishes alert.
func (s *Sink) WriteAlert(ctx context.Context, alert models.AlertEvent) error {
	_, err := s.alerts.Publish(ctx, alert)
	return err
}
