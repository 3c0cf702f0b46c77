package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router wraps http.ServeMux.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler registers an http.Handler (WebSocket upgrade, /metrics).
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterRoutes mounts the REST endpoints.
func (r *Router) RegisterRoutes(h *Handler) {
	r.Handle("/health", h.Health)
	r.Handle("/api/v1/system/status", h.SystemStatus)
	r.Handle("/api/v1/telemetry", h.IngestTelemetry)
	r.Handle("/api/v1/alerts", h.RecentAlerts)
	r.Handle("/api/v1/assets/", h.Assets)
}
