package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.OrderExpiration.IntervalSeconds)
	assert.Equal(t, time.Minute, cfg.OrderExpiration.Interval())
	assert.Equal(t, 10*time.Minute, cfg.OrderExpiration.Threshold)
	assert.Equal(t, 5*time.Second, cfg.OrderExpiration.StartupDelay)
	assert.Equal(t, 5*time.Second, cfg.Payment.Delay)
	assert.Equal(t, 0.5, cfg.Payment.SuccessRate)

	assert.Equal(t, 3, cfg.Retry.Limit)
	assert.Equal(t, time.Second, cfg.Retry.MinInterval)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxInterval)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, DriverSarama, cfg.Kafka.Driver)
	assert.Equal(t, "order_created", cfg.Kafka.Topics.Created)
	assert.Equal(t, ".dlq", cfg.Kafka.DeadLetterSuffix)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ORDER_EXPIRATION_INTERVAL_SECONDS", "15")
	t.Setenv("ORDER_EXPIRATION_THRESHOLD", "2m")
	t.Setenv("KAFKA_BROKER", "k1:9092, k2:9092")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("RETRY_LIMIT", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.OrderExpiration.IntervalSeconds)
	assert.Equal(t, 2*time.Minute, cfg.OrderExpiration.Threshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Contains(t, cfg.DB.DSN(), "host=db.internal")
	assert.Equal(t, 5, cfg.Retry.Limit)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
order_expiration:
  interval_seconds: 30
kafka:
  driver: kafka-go
redis:
  addr: localhost:6379
payment:
  success_rate: 0.8
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.OrderExpiration.IntervalSeconds)
	assert.Equal(t, DriverKafkaGo, cfg.Kafka.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0.8, cfg.Payment.SuccessRate)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"ORDER_EXPIRATION_INTERVAL_SECONDS": "0",
		"KAFKA_DRIVER":                      "carrier-pigeon",
		"RETRY_LIMIT":                       "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
