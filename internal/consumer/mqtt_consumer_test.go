package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqttcommon "twin-gateway/common/mqtt"
)

type fakeBroker struct {
	mu          sync.Mutex
	connected   bool
	handlers    map[string]mqttcommon.MessageHandler
	unsubscribe []string
	published   map[string][]byte
	publishErr  error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		connected: true,
		handlers:  map[string]mqttcommon.MessageHandler{},
		published: map[string][]byte{},
	}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, h mqttcommon.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
	return nil
}

func (b *fakeBroker) Unsubscribe(topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribe = append(b.unsubscribe, topics...)
	return nil
}

func (b *fakeBroker) Publish(_ context.Context, topic string, _ byte, _ bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published[topic] = payload
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) handler(topic string) mqttcommon.MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[topic]
}

type recordingHandler struct {
	mu     sync.Mutex
	topics []string
	ctxErr []error
}

func (h *recordingHandler) Handle(ctx context.Context, topic string, _ []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topics = append(h.topics, topic)
	h.ctxErr = append(h.ctxErr, ctx.Err())
	return nil
}

func TestMQTTConsumer_SubscribesAllCategories(t *testing.T) {
	broker := newFakeBroker()
	rec := &recordingHandler{}
	c := NewMQTTConsumer(broker, "assets", 1, rec, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool {
		return broker.handler("assets/commands/+") != nil
	}, time.Second, 5*time.Millisecond)

	for _, topic := range []string{"assets/telemetry/+", "assets/alerts/+", "assets/status/+", "assets/commands/+"} {
		require.NotNil(t, broker.handler(topic), topic)
	}

	require.NoError(t, broker.handler("assets/telemetry/+")("assets/telemetry/pump-1", []byte(`{}`)))
	assert.Equal(t, []string{"assets/telemetry/pump-1"}, rec.topics)
	assert.NoError(t, rec.ctxErr[0])

	cancel()
	require.NoError(t, <-done)

	require.NoError(t, c.Stop(context.Background()))
	assert.ElementsMatch(t, c.Topics(), broker.unsubscribe)
}

func TestCommandPublisher_PublishCommand(t *testing.T) {
	broker := newFakeBroker()
	p := NewCommandPublisher(broker, "dt/commands/", 1, zap.NewNop())

	topic, err := p.PublishCommand(context.Background(), "pump-1", map[string]any{"command_type": "restart"})
	require.NoError(t, err)
	assert.Equal(t, "dt/commands/pump-1", topic)
	assert.JSONEq(t, `{"command_type":"restart"}`, string(broker.published["dt/commands/pump-1"]))
}

func TestCommandPublisher_Errors(t *testing.T) {
	broker := newFakeBroker()
	p := NewCommandPublisher(broker, "assets/commands/", 1, zap.NewNop())

	_, err := p.PublishCommand(context.Background(), "a/#", nil)
	assert.ErrorIs(t, err, ErrInvalidAssetID)

	broker.publishErr = errors.New("timeout")
	_, err = p.PublishCommand(context.Background(), "pump-1", map[string]any{})
	assert.Error(t, err)

	broker.connected = false
	_, err = p.PublishCommand(context.Background(), "pump-1", map[string]any{})
	assert.ErrorIs(t, err, ErrNotConnected)
}
