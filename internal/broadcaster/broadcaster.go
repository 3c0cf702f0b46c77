package broadcaster

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"twin-gateway/internal/metrics"
	"twin-gateway/internal/models"
	"twin-gateway/internal/registry"
)

const DefaultSendTimeout = 5 * time.Second

// Registry is the subset of registry.Registry the broadcaster needs.
type Registry interface {
	SnapshotAll() []registry.Handle
	SnapshotSubscribers(assetID string) []registry.Handle
	Send(ctx context.Context, h registry.Handle, frame []byte) error
	Unregister(h registry.Handle, reason string) bool
}

// Config controls fan-out.
type Config struct {
	// SendTimeout bounds a single connection's send.
	SendTimeout time.Duration
	// Deduplicate delivers telemetry once per connection even when the
	// connection is also subscribed to the asset.
	Deduplicate bool
}

// Broadcaster encodes events once and fans them out to registered
// connections. A connection whose send fails or times out is unregistered;
// delivery to the rest continues.
type Broadcaster struct {
	registry Registry
	config   Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewBroadcaster creates a broadcaster. m may be nil.
func NewBroadcaster(reg Registry, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Broadcaster {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Broadcaster{
		registry: reg,
		config:   cfg,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// BroadcastTelemetry sends ev to every connection and again to the asset's
// subscribers. It returns the number of successful sends.
func (b *Broadcaster) BroadcastTelemetry(ctx context.Context, assetID string, ev models.TelemetryEvent) int {
	frame, err := b.encode(models.Envelope{
		Type:      models.TypeTelemetry,
		AssetID:   assetID,
		Data:      ev,
		Timestamp: models.FormatTime(b.now()),
	})
	if err != nil {
		return 0
	}

	targets := b.registry.SnapshotAll()
	subscribers := b.registry.SnapshotSubscribers(assetID)
	if b.config.Deduplicate {
		targets = union(targets, subscribers)
	} else {
		targets = append(targets, subscribers...)
	}
	return b.deliver(ctx, models.TypeTelemetry, frame, targets)
}

// BroadcastAlert sends alert to every connection.
func (b *Broadcaster) BroadcastAlert(ctx context.Context, assetID string, alert models.AlertEvent) int {
	frame, err := b.encode(models.Envelope{
		Type:      models.TypeAlert,
		AssetID:   assetID,
		Data:      alert,
		Timestamp: models.FormatTime(b.now()),
	})
	if err != nil {
		return 0
	}
	return b.deliver(ctx, models.TypeAlert, frame, b.registry.SnapshotAll())
}

// BroadcastStatus sends an asset_status envelope to every connection.
func (b *Broadcaster) BroadcastStatus(ctx context.Context, assetID, status string, details map[string]any) int {
	if details == nil {
		details = map[string]any{}
	}
	frame, err := b.encode(models.Envelope{
		Type:      models.TypeAssetStatus,
		AssetID:   assetID,
		Status:    status,
		Details:   details,
		Timestamp: models.FormatTime(b.now()),
	})
	if err != nil {
		return 0
	}
	return b.deliver(ctx, models.TypeAssetStatus, frame, b.registry.SnapshotAll())
}

// BroadcastSystemStatus sends a system_status envelope to every connection.
func (b *Broadcaster) BroadcastSystemStatus(ctx context.Context, data any) int {
	frame, err := b.encode(models.Envelope{
		Type:      models.TypeSystemStatus,
		Data:      data,
		Timestamp: models.FormatTime(b.now()),
	})
	if err != nil {
		return 0
	}
	return b.deliver(ctx, models.TypeSystemStatus, frame, b.registry.SnapshotAll())
}

func (b *Broadcaster) encode(env models.Envelope) ([]byte, error) {
	frame, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("Failed to encode broadcast",
			zap.String("type", env.Type),
			zap.String("asset_id", env.AssetID),
			zap.Error(err),
		)
		return nil, err
	}
	return frame, nil
}

func (b *Broadcaster) deliver(ctx context.Context, msgType string, frame []byte, targets []registry.Handle) int {
	if len(targets) == 0 {
		return 0
	}
	start := time.Now()
	defer b.metrics.ObserveBroadcast(msgType, start)

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, h := range targets {
		wg.Add(1)
		go func(h registry.Handle) {
			defer wg.Done()
			if b.sendOne(ctx, h, frame) {
				delivered.Add(1)
			}
		}(h)
	}
	wg.Wait()

	n := int(delivered.Load())
	b.metrics.WSMessages("out", msgType, n)
	b.logger.Debug("Broadcast complete",
		zap.String("type", msgType),
		zap.Int("targets", len(targets)),
		zap.Int("delivered", n),
		zap.Duration("duration", time.Since(start)),
	)
	return n
}

func (b *Broadcaster) sendOne(ctx context.Context, h registry.Handle, frame []byte) bool {
	sendCtx, cancel := context.WithTimeout(ctx, b.config.SendTimeout)
	defer cancel()

	err := b.registry.Send(sendCtx, h, frame)
	if err == nil {
		return true
	}
	if errors.Is(err, registry.ErrUnknownHandle) {
		return false
	}
	// caller is shutting down; the connection itself is not at fault
	if ctx.Err() != nil {
		return false
	}
	b.logger.Warn("Send failed, dropping connection",
		zap.String("handle", string(h)),
		zap.Error(err),
	)
	b.registry.Unregister(h, "send_failed")
	return false
}

func union(a, b []registry.Handle) []registry.Handle {
	seen := make(map[registry.Handle]struct{}, len(a)+len(b))
	out := make([]registry.Handle, 0, len(a)+len(b))
	for _, list := range [][]registry.Handle{a, b} {
		for _, h := range list {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}
