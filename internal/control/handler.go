package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"twin-gateway/internal/metrics"
	"twin-gateway/internal/models"
	"twin-gateway/internal/registry"
)

const (
	MsgInvalidJSON    = "Invalid JSON format"
	MsgInvalidMessage = "Invalid message format"
)

// Registry is the subset of registry.Registry the handler needs.
type Registry interface {
	Subscribe(h registry.Handle, assetID string) bool
	Unsubscribe(h registry.Handle, assetID string) bool
	Send(ctx context.Context, h registry.Handle, frame []byte) error
	Unregister(h registry.Handle, reason string) bool
}

// Handler processes client control frames. A control frame never closes the
// connection; bad input is answered with an error reply.
type Handler struct {
	registry    Registry
	sendTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewHandler creates a control handler. m may be nil.
func NewHandler(reg Registry, sendTimeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Handler{
		registry:    reg,
		sendTimeout: sendTimeout,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Handle applies frame for h and sends the reply back to h. A failed reply
// send unregisters h and returns the error.
func (c *Handler) Handle(ctx context.Context, h registry.Handle, frame []byte) error {
	reply := c.Process(h, frame)

	out, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	if err := c.registry.Send(sendCtx, h, out); err != nil {
		if ctx.Err() == nil {
			c.registry.Unregister(h, "send_failed")
		}
		return fmt.Errorf("send %s reply: %w", reply.Type, err)
	}
	c.metrics.WSMessage("out", reply.Type)
	return nil
}

// Process applies frame's effect on the registry and returns the reply.
func (c *Handler) Process(h registry.Handle, frame []byte) models.Reply {
	var msg models.ClientMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.metrics.WSMessage("in", "invalid")
		if !json.Valid(frame) {
			return errorReply(MsgInvalidJSON)
		}
		return errorReply(MsgInvalidMessage)
	}
	c.metrics.WSMessage("in", msg.Type)

	switch msg.Type {
	case models.TypeSubscribe:
		if msg.AssetID == "" {
			return errorReply("asset_id is required for subscribe")
		}
		if c.registry.Subscribe(h, msg.AssetID) {
			c.logger.Info("Client subscribed", zap.String("handle", string(h)), zap.String("asset_id", msg.AssetID))
		}
		return models.Reply{Type: models.TypeSubscriptionConfirmed, AssetID: msg.AssetID}

	case models.TypeUnsubscribe:
		if msg.AssetID == "" {
			return errorReply("asset_id is required for unsubscribe")
		}
		if c.registry.Unsubscribe(h, msg.AssetID) {
			c.logger.Info("Client unsubscribed", zap.String("handle", string(h)), zap.String("asset_id", msg.AssetID))
		}
		return models.Reply{Type: models.TypeUnsubscriptionConfirmed, AssetID: msg.AssetID}

	case models.TypePing:
		return models.Reply{Type: models.TypePong, Timestamp: models.FormatTime(c.now())}

	case "":
		return errorReply("Missing message type")

	default:
		return errorReply("Unknown message type: " + msg.Type)
	}
}

func errorReply(msg string) models.Reply {
	return models.Reply{Type: models.TypeError, Message: msg}
}
