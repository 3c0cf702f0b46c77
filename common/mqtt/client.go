package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"twin-gateway/common/config"
)

// MessageHandler handles one inbound message. Returned errors are logged.
type MessageHandler func(topic string, payload []byte) error

var ErrConnectTimeout = errors.New("mqtt connect timed out")

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client wraps a paho client. Subscriptions are remembered and re-issued on
// every (re)connect because the session is clean.
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]subscription
}

// NewClient creates a client from cfg. It does not connect; call Connect.
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) *Client {
	c := &Client{
		config: cfg,
		logger: logger,
		subs:   make(map[string]subscription),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	if cfg.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(cfg.MaxReconnectInterval)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	// each message gets its own goroutine
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("MQTT reconnecting", zap.String("broker", cfg.Broker))
	})

	c.client = mqtt.NewClient(opts)
	return c
}

func newClientWith(pc mqtt.Client, cfg *config.MQTTConfig, logger *zap.Logger) *Client {
	return &Client{client: pc, config: cfg, logger: logger, subs: make(map[string]subscription)}
}

// Connect dials the broker, retrying with exponential backoff until it
// succeeds, ctx is done, or ConnectRetryMaxElapsed passes.
func (c *Client) Connect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if c.config.MaxReconnectInterval > 0 {
		b.MaxInterval = c.config.MaxReconnectInterval
		if b.InitialInterval > b.MaxInterval {
			b.InitialInterval = b.MaxInterval
		}
	}
	b.MaxElapsedTime = c.config.ConnectRetryMaxElapsed

	timeout := c.config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	op := func() error {
		token := c.client.Connect()
		if !token.WaitTimeout(timeout) {
			return ErrConnectTimeout
		}
		return token.Error()
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn("MQTT connect failed, retrying",
			zap.String("broker", c.config.Broker),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", c.config.Broker, err)
	}
	c.logger.Info("MQTT connected", zap.String("broker", c.config.Broker))
	return nil
}

// Subscribe registers handler for topic. If the client is connected the
// subscription is issued immediately; it is re-issued on every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if !c.client.IsConnected() {
		return nil
	}
	return c.subscribe(c.client, topic, subscription{qos: qos, handler: handler})
}

func (c *Client) subscribe(pc mqtt.Client, topic string, sub subscription) error {
	token := pc.Subscribe(topic, sub.qos, c.wrap(sub.handler))
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

func (c *Client) wrap(handler MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("Error handling MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	}
}

func (c *Client) onConnect(pc mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	c.mu.Unlock()

	for topic, sub := range subs {
		if err := c.subscribe(pc, topic, sub); err != nil {
			c.logger.Error("Failed to resubscribe", zap.String("topic", topic), zap.Error(err))
			continue
		}
		c.logger.Info("Subscribed", zap.String("topic", topic), zap.Uint8("qos", sub.qos))
	}
}

// Publish sends payload and waits for the broker acknowledgement or ctx.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to topic %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes topics and forgets them for future reconnects.
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()

	if !c.client.IsConnected() {
		return nil
	}
	token := c.client.Unsubscribe(topics...)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}
	return nil
}

// Disconnect closes the connection, waiting up to 250ms for in-flight work.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}
