package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	commonredis "twin-gateway/common/redis"
	"twin-gateway/internal/models"
)

// AlertStream appends alerts to a capped Redis stream for downstream consumers.
type AlertStream struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewAlertStream creates a stream writer. maxLen <= 0 leaves the stream uncapped.
func NewAlertStream(rdb *redis.Client, stream string, maxLen int64, logger *zap.Logger) *AlertStream {
	return &AlertStream{
		rdb:    rdb,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Publish appends alert and returns the stream entry id.
func (s *AlertStream) Publish(ctx context.Context, alert models.AlertEvent) (string, error) {
	id, err := commonredis.PublishJSONToStream(ctx, s.rdb, s.stream, s.maxLen, alert)
	if err != nil {
		return "", fmt.Errorf("failed to publish alert to %s: %w", s.stream, err)
	}
	return id, nil
}

// Recent returns up to n alerts, newest first. Entries that fail to decode are
// skipped.
func (s *AlertStream) Recent(ctx context.Context, n int64) ([]models.AlertEvent, error) {
	msgs, err := commonredis.ReadLatest(ctx, s.rdb, s.stream, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.stream, err)
	}
	out := make([]models.AlertEvent, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values["data"].(string)
		var a models.AlertEvent
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			s.logger.Warn("Skipping undecodable alert", zap.String("id", m.ID), zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
