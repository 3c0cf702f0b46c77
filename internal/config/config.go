package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "twin-gateway/common/config"
	"twin-gateway/internal/evaluator"
	"twin-gateway/internal/models"
)

// Config is the gateway configuration, read from the environment.
type Config struct {
	HTTP struct {
		Addr string
	}
	Database commoncfg.DatabaseConfig
	Redis    commoncfg.RedisConfig
	MQTT     commoncfg.MQTTConfig
	Topics   struct {
		Prefix        string
		CommandPrefix string
	}
	WebSocket struct {
		Path           string
		SendTimeout    time.Duration
		QueueSize      int
		PingPeriod     time.Duration
		PongWait       time.Duration
		MaxMessageSize int64
		Deduplicate    bool
	}
	Sink struct {
		AlertStream       string
		AlertStreamMaxLen int64
		LastSeenKey       string
		AssetCachePrefix  string
		WriteTimeout      time.Duration
	}
	Alerts struct {
		WebhookURL     string
		WebhookTimeout time.Duration
	}
	SystemStatusInterval time.Duration
	Thresholds           evaluator.Table
	Log                  struct {
		Level  string
		Format string
	}
}

// Load reads the configuration. Threshold overrides that don't parse or are
// inconsistent are reported as errors.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8000")

	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "digital_twin",
		SSLMode:  "disable",
		MaxConns: 20,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = commoncfg.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "twin-gateway",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")
	cfg.MQTT.ConnectTimeout = parseDuration(getEnv("MQTT_CONNECT_TIMEOUT", "10s"), 10*time.Second)
	cfg.MQTT.MaxReconnectInterval = parseDuration(getEnv("MQTT_MAX_RECONNECT_INTERVAL", "30s"), 30*time.Second)
	cfg.MQTT.ConnectRetryMaxElapsed = parseDuration(getEnv("MQTT_CONNECT_RETRY_MAX_ELAPSED", "0s"), 0)

	cfg.Topics.Prefix = strings.TrimSuffix(getEnv("MQTT_TOPIC_PREFIX", "assets"), "/")
	cfg.Topics.CommandPrefix = getEnv("MQTT_COMMAND_PREFIX", "assets/commands/")

	cfg.WebSocket.Path = getEnv("WS_PATH", "/ws/telemetry")
	cfg.WebSocket.SendTimeout = parseDuration(getEnv("WS_SEND_TIMEOUT", "5s"), 5*time.Second)
	cfg.WebSocket.QueueSize = parseInt(getEnv("WS_QUEUE_SIZE", "64"), 64)
	cfg.WebSocket.PongWait = parseDuration(getEnv("WS_PONG_WAIT", "60s"), 60*time.Second)
	cfg.WebSocket.PingPeriod = parseDuration(getEnv("WS_PING_PERIOD", "54s"), 54*time.Second)
	cfg.WebSocket.MaxMessageSize = int64(parseInt(getEnv("WS_MAX_MESSAGE_SIZE", "4096"), 4096))
	cfg.WebSocket.Deduplicate = parseBool(getEnv("WS_DEDUPLICATE", "false"))
	if cfg.WebSocket.PingPeriod >= cfg.WebSocket.PongWait {
		return nil, fmt.Errorf("WS_PING_PERIOD (%s) must be shorter than WS_PONG_WAIT (%s)",
			cfg.WebSocket.PingPeriod, cfg.WebSocket.PongWait)
	}

	cfg.Sink.AlertStream = getEnv("ALERT_STREAM", "twin:alerts:stream")
	cfg.Sink.AlertStreamMaxLen = int64(parseInt(getEnv("ALERT_STREAM_MAXLEN", "10000"), 10000))
	cfg.Sink.LastSeenKey = getEnv("LAST_SEEN_KEY", "twin:asset:last_seen")
	cfg.Sink.AssetCachePrefix = getEnv("ASSET_CACHE_PREFIX", "")
	cfg.Sink.WriteTimeout = parseDuration(getEnv("SINK_WRITE_TIMEOUT", "3s"), 3*time.Second)

	cfg.Alerts.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	cfg.Alerts.WebhookTimeout = parseDuration(getEnv("ALERT_WEBHOOK_TIMEOUT", "5s"), 5*time.Second)

	cfg.SystemStatusInterval = parseDuration(getEnv("SYSTEM_STATUS_INTERVAL", "30s"), 30*time.Second)

	table, err := loadThresholds(evaluator.DefaultTable())
	if err != nil {
		return nil, err
	}
	cfg.Thresholds = table

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// loadThresholds applies THRESHOLD_<METRIC>_MIN / _MAX overrides to base.
func loadThresholds(base evaluator.Table) (evaluator.Table, error) {
	table := base
	for _, m := range models.Metrics {
		key := "THRESHOLD_" + strings.ToUpper(string(m))
		min, err := optionalFloat(key + "_MIN")
		if err != nil {
			return base, err
		}
		max, err := optionalFloat(key + "_MAX")
		if err != nil {
			return base, err
		}
		if min == nil && max == nil {
			continue
		}
		table, err = table.Override(m, min, max)
		if err != nil {
			return base, err
		}
	}
	return table, nil
}

func optionalFloat(key string) (*float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &v, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
