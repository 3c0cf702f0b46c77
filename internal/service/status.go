package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"twin-gateway/internal/models"
)

// Version is reported by the health and status endpoints.
const Version = "1.0.0"

// HealthCheck returns nil when a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// StatusProvider assembles health and status reports from live components.
type StatusProvider struct {
	connections   func() int
	mqttConnected func() bool
	stats         func() StatsSnapshot
	checks        map[string]HealthCheck
	checkTimeout  time.Duration
	now           func() time.Time
}

// NewStatusProvider creates a provider. checks maps a service name such as
// "database" to its probe.
func NewStatusProvider(connections func() int, mqttConnected func() bool, stats func() StatsSnapshot, checks map[string]HealthCheck) *StatusProvider {
	return &StatusProvider{
		connections:   connections,
		mqttConnected: mqttConnected,
		stats:         stats,
		checks:        checks,
		checkTimeout:  2 * time.Second,
		now:           time.Now,
	}
}

func (s *StatusProvider) probe(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(s.checks)+1)
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c, cancel := context.WithTimeout(ctx, s.checkTimeout)
		out[name] = s.checks[name](c) == nil
		cancel()
	}
	out["mqtt"] = s.mqttConnected != nil && s.mqttConnected()
	return out
}

// Health reports dependency connectivity. The gateway stays "healthy" while
// dependencies are down since live fan-out keeps working.
func (s *StatusProvider) Health(ctx context.Context) models.Health {
	services := make(map[string]string)
	for name, ok := range s.probe(ctx) {
		services[name] = label(ok, "connected", "disconnected")
	}
	return models.Health{
		Status:    "healthy",
		Timestamp: models.FormatTime(s.now()),
		Version:   Version,
		Services:  services,
	}
}

// SystemStatus reports per-service health and live counters.
func (s *StatusProvider) SystemStatus(ctx context.Context) models.SystemStatus {
	services := map[string]string{
		"api":       "healthy",
		"websocket": "healthy",
	}
	status := "operational"
	for name, ok := range s.probe(ctx) {
		services[name] = label(ok, "healthy", "unhealthy")
		if !ok {
			status = "degraded"
		}
	}

	var st StatsSnapshot
	if s.stats != nil {
		st = s.stats()
	}
	active := 0
	if s.connections != nil {
		active = s.connections()
	}
	return models.SystemStatus{
		Timestamp: models.FormatTime(s.now()),
		Status:    status,
		Services:  services,
		Metrics: models.StatusMetrics{
			ActiveConnections:     active,
			MQTTMessagesReceived:  st.MessagesReceived,
			MQTTMessagesProcessed: st.MessagesProcessed,
			MQTTErrors:            st.Errors,
			LastMessageTime:       st.LastMessageTime,
		},
	}
}

func label(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// StatusReporter periodically broadcasts SystemStatus to connected clients.
type StatusReporter struct {
	provider    *StatusProvider
	broadcaster Broadcaster
	interval    time.Duration
	logger      *zap.Logger
}

// NewStatusReporter creates a reporter. A non-positive interval disables it.
func NewStatusReporter(provider *StatusProvider, b Broadcaster, interval time.Duration, logger *zap.Logger) *StatusReporter {
	return &StatusReporter{
		provider:    provider,
		broadcaster: b,
		interval:    interval,
		logger:      logger,
	}
}

// Run broadcasts until ctx is done.
func (r *StatusReporter) Run(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *StatusReporter) tick(ctx context.Context) {
	if r.provider.connections != nil && r.provider.connections() == 0 {
		return
	}
	n := r.broadcaster.BroadcastSystemStatus(ctx, r.provider.SystemStatus(ctx))
	r.logger.Debug("System status broadcast", zap.Int("delivered", n))
}
