package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	mqttcommon "twin-gateway/common/mqtt"
	"twin-gateway/internal/router"
)

var (
	ErrNotConnected   = errors.New("mqtt client not connected")
	ErrInvalidAssetID = errors.New("invalid asset id")
)

// Broker is the subset of the common MQTT client used here.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	IsConnected() bool
}

// MessageHandler processes one inbound broker message.
type MessageHandler interface {
	Handle(ctx context.Context, topic string, payload []byte) error
}

// MQTTConsumer subscribes to every asset category under a topic prefix and
// hands each message to the pipeline. Subscriptions survive reconnects
// because the broker client re-issues them.
type MQTTConsumer struct {
	broker  Broker
	topics  []string
	qos     byte
	handler MessageHandler
	logger  *zap.Logger

	ctx atomic.Pointer[context.Context]
}

// NewMQTTConsumer creates a consumer for <prefix>/{telemetry,alerts,status,commands}/+.
func NewMQTTConsumer(broker Broker, prefix string, qos byte, handler MessageHandler, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		broker:  broker,
		topics:  router.SubscriptionTopics(prefix),
		qos:     qos,
		handler: handler,
		logger:  logger,
	}
}

// Topics returns the subscription patterns.
func (c *MQTTConsumer) Topics() []string {
	out := make([]string, len(c.topics))
	copy(out, c.topics)
	return out
}

// Start subscribes and blocks until ctx is done. Messages are handled with ctx.
func (c *MQTTConsumer) Start(ctx context.Context) error {
	c.ctx.Store(&ctx)

	for _, topic := range c.topics {
		if err := c.broker.Subscribe(topic, c.qos, c.handleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	c.logger.Info("MQTT consumer started", zap.Strings("topics", c.topics))

	<-ctx.Done()
	return nil
}

// Stop unsubscribes from every topic.
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.broker.Unsubscribe(c.topics...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	ctx := context.Background()
	if p := c.ctx.Load(); p != nil {
		ctx = *p
	}
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)
	return c.handler.Handle(ctx, topic, payload)
}

// CommandPublisher sends commands to assets on <commandPrefix><assetID>.
type CommandPublisher struct {
	broker Broker
	prefix string
	qos    byte
	logger *zap.Logger
}

// NewCommandPublisher creates a publisher. prefix is used verbatim, so it
// normally ends in "/".
func NewCommandPublisher(broker Broker, prefix string, qos byte, logger *zap.Logger) *CommandPublisher {
	return &CommandPublisher{
		broker: broker,
		prefix: prefix,
		qos:    qos,
		logger: logger,
	}
}

// Topic returns the command topic for assetID.
func (p *CommandPublisher) Topic(assetID string) string {
	return p.prefix + assetID
}

// PublishCommand JSON-encodes command and publishes it for assetID. It returns
// the topic used.
func (p *CommandPublisher) PublishCommand(ctx context.Context, assetID string, command map[string]any) (string, error) {
	if assetID == "" || strings.ContainsAny(assetID, "+#/") {
		return "", fmt.Errorf("%w %q", ErrInvalidAssetID, assetID)
	}
	if !p.broker.IsConnected() {
		return "", ErrNotConnected
	}

	payload, err := json.Marshal(command)
	if err != nil {
		return "", fmt.Errorf("failed to encode command: %w", err)
	}

	topic := p.Topic(assetID)
	if err := p.broker.Publish(ctx, topic, p.qos, false, payload); err != nil {
		p.logger.Error("Failed to publish command",
			zap.String("asset_id", assetID),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return "", err
	}

	p.logger.Info("Command published",
		zap.String("asset_id", assetID),
		zap.String("topic", topic),
	)
	return topic, nil
}
