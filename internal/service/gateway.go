package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"twin-gateway/common/database"
	mqttcommon "twin-gateway/common/mqtt"
	rediscommon "twin-gateway/common/redis"
	"twin-gateway/internal/broadcaster"
	"twin-gateway/internal/config"
	"twin-gateway/internal/consumer"
	"twin-gateway/internal/control"
	"twin-gateway/internal/evaluator"
	"twin-gateway/internal/httpapi"
	"twin-gateway/internal/metrics"
	"twin-gateway/internal/notifier"
	"twin-gateway/internal/registry"
	"twin-gateway/internal/repository"
	"twin-gateway/internal/router"
	"twin-gateway/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

// GatewayService owns every long-lived component of the gateway.
type GatewayService struct {
	config     *config.Config
	logger     *zap.Logger
	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client

	registry *registry.Registry
	pipeline *Pipeline
	consumer *consumer.MQTTConsumer
	reporter *StatusReporter
	server   *Server

	cancel context.CancelFunc
	group  *errgroup.Group
	stop   sync.Once
}

// NewGatewayService connects to PostgreSQL and Redis and wires the pipeline.
// The broker connection is made in Start.
func NewGatewayService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*GatewayService, error) {
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	mqttClient := mqttcommon.NewClient(&cfg.MQTT, logger)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	// Sink
	telemetryRepo := repository.NewTelemetryRepository(db, logger)
	lastSeen := repository.NewLastSeenIndex(redisClient, cfg.Sink.LastSeenKey, cfg.Sink.AssetCachePrefix, logger)
	alertStream := repository.NewAlertStream(redisClient, cfg.Sink.AlertStream, cfg.Sink.AlertStreamMaxLen, logger)
	sink := repository.NewSink(telemetryRepo, lastSeen, alertStream, logger)

	// Fan-out
	reg := registry.NewRegistry(m, logger)
	bc := broadcaster.NewBroadcaster(reg, broadcaster.Config{
		SendTimeout: cfg.WebSocket.SendTimeout,
		Deduplicate: cfg.WebSocket.Deduplicate,
	}, m, logger)
	ctl := control.NewHandler(reg, cfg.WebSocket.SendTimeout, m, logger)

	// Pipeline
	opts := []PipelineOption{
		WithSink(sink, cfg.Sink.WriteTimeout),
		WithMetrics(m),
	}
	if cfg.Alerts.WebhookURL != "" {
		opts = append(opts, WithNotifier(notifier.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookTimeout, logger)))
		logger.Info("Alert webhook enabled", zap.String("url", cfg.Alerts.WebhookURL))
	}
	pipeline := NewPipeline(router.New(), evaluator.NewEvaluator(cfg.Thresholds), bc, logger, opts...)

	qos := byte(cfg.MQTT.QoS)
	mqttConsumer := consumer.NewMQTTConsumer(mqttClient, cfg.Topics.Prefix, qos, pipeline, logger)
	commands := consumer.NewCommandPublisher(mqttClient, cfg.Topics.CommandPrefix, qos, logger)

	// Status
	redisCheck := func(ctx context.Context) error {
		return rediscommon.Ping(ctx, redisClient)
	}
	status := NewStatusProvider(reg.Len, mqttClient.IsConnected, pipeline.Stats, map[string]HealthCheck{
		"database": db.PingContext,
		"redis":    redisCheck,
	})
	reporter := NewStatusReporter(status, bc, cfg.SystemStatusInterval, logger)

	// HTTP
	r := httpapi.NewRouter(logger)
	r.RegisterRoutes(httpapi.NewHandler(httpapi.Deps{
		Status:    status,
		Ingestor:  pipeline,
		Telemetry: telemetryRepo,
		LastSeen:  lastSeen,
		Alerts:    alertStream,
		Commands:  commands,
	}, logger))
	r.HandleHandler(cfg.WebSocket.Path, websocket.NewHandler(reg, ctl, websocket.Options{
		QueueSize:      cfg.WebSocket.QueueSize,
		PongWait:       cfg.WebSocket.PongWait,
		PingPeriod:     cfg.WebSocket.PingPeriod,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, logger))
	r.HandleHandler("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	return &GatewayService{
		config:     cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		mqttClient: mqttClient,
		registry:   reg,
		pipeline:   pipeline,
		consumer:   mqttConsumer,
		reporter:   reporter,
		server:     NewServer(cfg.HTTP.Addr, r, logger),
	}, nil
}

// Start launches the consumer, broker connection, status reporter and HTTP
// server and returns immediately. Wait reports the first fatal error.
func (s *GatewayService) Start(ctx context.Context) error {
	s.logger.Info("Starting gateway service components")

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	s.group = g

	// subscriptions are stored first and issued on every (re)connect
	g.Go(func() error {
		if err := s.consumer.Start(gctx); err != nil {
			return fmt.Errorf("failed to start MQTT consumer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.mqttClient.Connect(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error { return s.reporter.Run(gctx) })
	g.Go(func() error {
		if err := s.server.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Stop(shutdownCtx)
	})

	s.logger.Info("Gateway service started",
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.String("ws_path", s.config.WebSocket.Path),
		zap.Strings("topics", s.consumer.Topics()),
	)
	return nil
}

// Wait blocks until every component has returned.
func (s *GatewayService) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Stop cancels every component, waits for them and closes the stores. The
// HTTP server gets shutdownTimeout to drain.
func (s *GatewayService) Stop(ctx context.Context) error {
	var err error
	s.stop.Do(func() {
		s.logger.Info("Stopping gateway service")

		if s.cancel != nil {
			s.cancel()
		}
		if stopErr := s.consumer.Stop(ctx); stopErr != nil {
			s.logger.Error("Error stopping consumer", zap.Error(stopErr))
		}
		s.registry.Close()
		s.mqttClient.Disconnect()

		if waitErr := s.Wait(); waitErr != nil {
			s.logger.Error("Gateway component failed", zap.Error(waitErr))
			err = waitErr
		}

		if closeErr := rediscommon.Close(s.redis); closeErr != nil {
			s.logger.Error("Error closing redis", zap.Error(closeErr))
		}
		if closeErr := database.Close(s.db); closeErr != nil {
			s.logger.Error("Error closing database", zap.Error(closeErr))
		}

		stats := s.pipeline.Stats()
		s.logger.Info("Gateway service stopped",
			zap.Int64("messages_received", stats.MessagesReceived),
			zap.Int64("messages_processed", stats.MessagesProcessed),
			zap.Int64("errors", stats.Errors),
		)
	})
	return err
}
