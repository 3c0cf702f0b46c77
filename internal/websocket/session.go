package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrSessionClosed = errors.New("websocket session closed")

// Options tunes a session. Zero values take the defaults below.
type Options struct {
	QueueSize      int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

const (
	defaultQueueSize      = 64
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 4096
)

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	return o
}

// Session is one WebSocket client. Frames handed to Send are queued and
// written in order by a single writer goroutine.
type Session struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	opts   Options
	logger *zap.Logger

	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, opts Options, logger *zap.Logger) *Session {
	return &Session{
		conn:   conn,
		send:   make(chan []byte, opts.QueueSize),
		done:   make(chan struct{}),
		opts:   opts,
		logger: logger,
	}
}

// Send queues frame for writing. It blocks while the queue is full until ctx
// is done or the session closes.
func (s *Session) Send(ctx context.Context, frame []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the writer, which sends a close frame and closes the socket.
// It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("WebSocket ping failed", zap.Error(err))
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.opts.WriteWait))
			return
		}
	}
}

// readPump hands every inbound frame to onFrame until the socket fails.
func (s *Session) readPump(onFrame func(frame []byte)) error {
	s.conn.SetReadLimit(s.opts.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		onFrame(frame)
	}
}
