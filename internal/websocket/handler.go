package websocket

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"twin-gateway/internal/registry"
)

// Registry is the subset of registry.Registry the handler needs.
type Registry interface {
	Register(conn registry.Conn) registry.Handle
	Unregister(h registry.Handle, reason string) bool
	Subscriptions(h registry.Handle) []string
}

// ControlHandler answers client control frames.
type ControlHandler interface {
	Handle(ctx context.Context, h registry.Handle, frame []byte) error
}

// Handler upgrades HTTP requests to WebSocket sessions and registers them.
type Handler struct {
	registry Registry
	control  ControlHandler
	upgrader websocket.Upgrader
	opts     Options
	logger   *zap.Logger
}

func NewHandler(reg Registry, control ControlHandler, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		registry: reg,
		control:  control,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	s := newSession(conn, h.opts, h.logger)
	handle := h.registry.Register(s)
	h.logger.Info("WebSocket connected",
		zap.String("handle", string(handle)),
		zap.String("remote", r.RemoteAddr),
	)
	go s.writePump()

	// scoped to the read loop; cancelled as soon as it stops
	ctx, cancel := context.WithCancel(context.Background())
	err = s.readPump(func(frame []byte) {
		if err := h.control.Handle(ctx, handle, frame); err != nil {
			h.logger.Debug("Control reply not delivered", zap.String("handle", string(handle)), zap.Error(err))
		}
	})
	cancel()
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.logger.Warn("WebSocket read error", zap.String("handle", string(handle)), zap.Error(err))
	}
	h.logger.Info("WebSocket disconnected",
		zap.String("handle", string(handle)),
		zap.Strings("subscriptions", h.registry.Subscriptions(handle)),
	)
	h.registry.Unregister(handle, "closed")
}
