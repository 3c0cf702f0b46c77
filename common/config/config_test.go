package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	os.Clearenv()
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_NAME", "twins")
	t.Setenv("DB_MAX_CONNS", "not-a-number")

	cfg := DatabaseConfig{Host: "localhost", Port: 5432, SSLMode: "disable", MaxConns: 10}
	cfg.LoadFromEnv("DB")

	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "twins", cfg.Database)
	assert.Equal(t, 10, cfg.MaxConns, "invalid numbers keep the default")
	assert.Equal(t, "host=db.internal port=6543 user= password= dbname=twins sslmode=disable", cfg.GetDSN())
}

func TestMQTTConfig_LoadFromEnv(t *testing.T) {
	os.Clearenv()
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_QOS", "2")

	cfg := MQTTConfig{ClientID: "gw", QoS: 1}
	cfg.LoadFromEnv("MQTT")
	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, "gw", cfg.ClientID)
	assert.Equal(t, byte(2), cfg.QoS)

	t.Setenv("MQTT_QOS", "7")
	cfg.LoadFromEnv("MQTT")
	assert.Equal(t, byte(2), cfg.QoS, "out of range qos is ignored")
}

func TestRedisConfig_LoadFromEnv(t *testing.T) {
	os.Clearenv()
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_DB", "3")

	var cfg RedisConfig
	cfg.LoadFromEnv("REDIS")
	assert.Equal(t, "cache:6379", cfg.Addr)
	assert.Equal(t, 3, cfg.DB)
}
