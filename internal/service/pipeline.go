package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"twin-gateway/internal/evaluator"
	"twin-gateway/internal/metrics"
	"twin-gateway/internal/models"
	"twin-gateway/internal/router"
)

// TelemetrySink persists what the pipeline accepts.
type TelemetrySink interface {
	Write(ctx context.Context, ev models.TelemetryEvent) error
	UpdateLastSeen(ctx context.Context, assetID string, ts time.Time) error
	WriteAlert(ctx context.Context, alert models.AlertEvent) error
}

// Broadcaster fans events out to live clients.
type Broadcaster interface {
	BroadcastTelemetry(ctx context.Context, assetID string, ev models.TelemetryEvent) int
	BroadcastAlert(ctx context.Context, assetID string, alert models.AlertEvent) int
	BroadcastStatus(ctx context.Context, assetID, status string, details map[string]any) int
	BroadcastSystemStatus(ctx context.Context, data any) int
}

// AlertNotifier forwards alerts outside the process.
type AlertNotifier interface {
	Notify(ctx context.Context, alert models.AlertEvent) (bool, error)
}

// Pipeline routes broker messages, evaluates thresholds, persists and
// broadcasts. Handle is safe for concurrent use; the broker client calls it
// from one goroutine per message.
type Pipeline struct {
	router      *router.Router
	evaluator   *evaluator.Evaluator
	sink        TelemetrySink
	broadcaster Broadcaster
	notifier    AlertNotifier
	sinkTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger

	stats Stats
}

// PipelineOption configures optional collaborators.
type PipelineOption func(*Pipeline)

// WithSink persists telemetry, liveness and alerts.
func WithSink(s TelemetrySink, timeout time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.sink = s
		p.sinkTimeout = timeout
	}
}

// WithNotifier forwards alerts.
func WithNotifier(n AlertNotifier) PipelineOption {
	return func(p *Pipeline) { p.notifier = n }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a pipeline.
func NewPipeline(r *router.Router, ev *evaluator.Evaluator, b Broadcaster, logger *zap.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		router:      r,
		evaluator:   ev,
		broadcaster: b,
		sinkTimeout: 3 * time.Second,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stats returns a snapshot of the message counters.
func (p *Pipeline) Stats() StatsSnapshot {
	return p.stats.Snapshot()
}

// Handle processes one broker message. Unknown topics and invalid payloads are
// counted and returned; they never stop the pipeline.
func (p *Pipeline) Handle(ctx context.Context, topic string, payload []byte) error {
	p.stats.received(time.Now())

	ev, err := p.router.Route(topic, payload)
	if err != nil {
		p.stats.failed()
		p.metrics.MQTTMessage(categoryOf(topic), "rejected")
		return err
	}

	switch ev.Kind {
	case router.KindTelemetry:
		p.Ingest(ctx, *ev.Telemetry)

	case router.KindAlert:
		alert := *ev.Alert
		if alert.ID == "" {
			alert.ID = uuid.New().String()
		}
		p.publishAlert(ctx, alert)
		p.logger.Info("Processed alert",
			zap.String("asset_id", alert.AssetID),
			zap.String("message", alert.Message),
		)

	case router.KindStatus:
		p.broadcaster.BroadcastStatus(ctx, ev.AssetID, ev.Status.Status, ev.Status.Details)
		p.logger.Info("Updated asset status",
			zap.String("asset_id", ev.AssetID),
			zap.String("status", ev.Status.Status),
		)

	case router.KindCommandAck:
		p.logger.Info("Received command confirmation",
			zap.String("asset_id", ev.AssetID),
			zap.String("command_type", ev.CommandAck.CommandType),
		)
	}

	p.stats.processed()
	p.metrics.MQTTMessage(string(ev.Kind), "ok")
	return nil
}

// Ingest runs an accepted telemetry event through evaluation, persistence and
// broadcast. Persistence failures are logged; the broadcast still happens.
// It returns the alerts raised.
func (p *Pipeline) Ingest(ctx context.Context, ev models.TelemetryEvent) []models.AlertEvent {
	var alerts []models.AlertEvent
	for alert := range p.evaluator.Alerts(ev) {
		alert.ID = uuid.New().String()
		p.metrics.Alert(string(alert.Metric), string(alert.Severity))
		p.publishAlert(ctx, alert)
		alerts = append(alerts, alert)
	}

	if p.sink != nil {
		sinkCtx, cancel := context.WithTimeout(ctx, p.sinkTimeout)
		if err := p.sink.Write(sinkCtx, ev); err != nil {
			p.metrics.SinkError("write")
			p.logger.Error("Failed to persist telemetry",
				zap.String("asset_id", ev.AssetID),
				zap.Error(err),
			)
		}
		if err := p.sink.UpdateLastSeen(sinkCtx, ev.AssetID, ev.Timestamp); err != nil {
			p.metrics.SinkError("last_seen")
			p.logger.Error("Failed to update last seen",
				zap.String("asset_id", ev.AssetID),
				zap.Error(err),
			)
		}
		cancel()
	}

	p.broadcaster.BroadcastTelemetry(ctx, ev.AssetID, ev)
	p.logger.Debug("Processed telemetry",
		zap.String("asset_id", ev.AssetID),
		zap.Int("alerts", len(alerts)),
	)
	return alerts
}

func (p *Pipeline) publishAlert(ctx context.Context, alert models.AlertEvent) {
	p.broadcaster.BroadcastAlert(ctx, alert.AssetID, alert)

	if p.sink != nil {
		sinkCtx, cancel := context.WithTimeout(ctx, p.sinkTimeout)
		if err := p.sink.WriteAlert(sinkCtx, alert); err != nil {
			p.metrics.SinkError("alert")
			p.logger.Error("Failed to persist alert",
				zap.String("asset_id", alert.AssetID),
				zap.Error(err),
			)
		}
		cancel()
	}

	if p.notifier != nil {
		if _, err := p.notifier.Notify(ctx, alert); err != nil {
			p.logger.Warn("Failed to forward alert",
				zap.String("asset_id", alert.AssetID),
				zap.Error(err),
			)
		}
	}
}

func categoryOf(topic string) string {
	if kind, ok := router.Classify(topic); ok {
		return string(kind)
	}
	return "unknown"
}
