package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"twin-gateway/common/config"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type fakePaho struct {
	mqtt.Client

	mu           sync.Mutex
	connected    bool
	connectErrs  []error
	connectCalls int
	subscribed   map[string]mqtt.MessageHandler
	published    map[string][]byte
}

func newFakePaho() *fakePaho {
	return &fakePaho{subscribed: map[string]mqtt.MessageHandler{}, published: map[string][]byte{}}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return newDoneToken(err)
	}
	f.connected = true
	return newDoneToken(nil)
}

func (f *fakePaho) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[topic] = cb
	return newDoneToken(nil)
}

func (f *fakePaho) Unsubscribe(topics ...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.subscribed, t)
	}
	return newDoneToken(nil)
}

func (f *fakePaho) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = payload.([]byte)
	return newDoneToken(nil)
}

func TestClient_ConnectRetriesWithBackoff(t *testing.T) {
	pc := newFakePaho()
	pc.connectErrs = []error{errors.New("refused"), errors.New("refused")}
	c := newClientWith(pc, &config.MQTTConfig{Broker: "tcp://x:1883", MaxReconnectInterval: 10 * time.Millisecond}, zap.NewNop())

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 3, pc.connectCalls)
	assert.True(t, c.IsConnected())
}

func TestClient_ConnectStopsOnContext(t *testing.T) {
	pc := newFakePaho()
	for i := 0; i < 1000; i++ {
		pc.connectErrs = append(pc.connectErrs, errors.New("refused"))
	}
	c := newClientWith(pc, &config.MQTTConfig{Broker: "tcp://x:1883"}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Connect(ctx)
	require.Error(t, err)
}

func TestClient_ResubscribesOnConnect(t *testing.T) {
	pc := newFakePaho()
	c := newClientWith(pc, &config.MQTTConfig{}, zap.NewNop())

	var got []string
	var mu sync.Mutex
	handler := func(topic string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, topic+"="+string(payload))
		return nil
	}

	// not connected yet: remembered only
	require.NoError(t, c.Subscribe("assets/telemetry/+", 1, handler))
	assert.Empty(t, pc.subscribed)

	c.onConnect(pc)
	require.Contains(t, pc.subscribed, "assets/telemetry/+")

	// simulate a reconnect with a fresh session
	pc.subscribed = map[string]mqtt.MessageHandler{}
	c.onConnect(pc)
	cb := pc.subscribed["assets/telemetry/+"]
	require.NotNil(t, cb)

	cb(pc, fakeMessage{topic: "assets/telemetry/pump-1", payload: []byte("{}")})
	assert.Equal(t, []string{"assets/telemetry/pump-1={}"}, got)

	require.NoError(t, c.Unsubscribe("assets/telemetry/+"))
	pc.subscribed = map[string]mqtt.MessageHandler{}
	c.onConnect(pc)
	assert.Empty(t, pc.subscribed)
}

func TestClient_HandlerErrorIsSwallowed(t *testing.T) {
	pc := newFakePaho()
	pc.connected = true
	c := newClientWith(pc, &config.MQTTConfig{}, zap.NewNop())

	require.NoError(t, c.Subscribe("a/b/+", 0, func(string, []byte) error { return errors.New("boom") }))
	assert.NotPanics(t, func() {
		pc.subscribed["a/b/+"](pc, fakeMessage{topic: "a/b/c"})
	})
}

func TestClient_Publish(t *testing.T) {
	pc := newFakePaho()
	c := newClientWith(pc, &config.MQTTConfig{}, zap.NewNop())

	require.NoError(t, c.Publish(context.Background(), "assets/commands/pump-1", 1, false, []byte(`{"cmd":"stop"}`)))
	assert.Equal(t, `{"cmd":"stop"}`, string(pc.published["assets/commands/pump-1"]))
}
