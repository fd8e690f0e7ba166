package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	cfg := LoadConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorageDriverPostgres, cfg.StorageDriver)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 10*time.Minute, cfg.DefaultHoldDuration)
	assert.Equal(t, "avail:development:", cfg.RedisKeyPrefix)
	assert.Equal(t, []string{SinkKafka, SinkRedis}, cfg.NotifierSinks)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.RunMigrations)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("SWEEP_INTERVAL_SEC", "45")
	t.Setenv("DEFAULT_HOLD_SEC", "120")
	t.Setenv("NOTIFIER_SINKS", "kafka; rabbitmq")
	t.Setenv("NOTIFIER_TIMEOUT_MS", "750")
	t.Setenv("REDIS_ADDRS", "r1:6379,r2:6379,r3:6379")
	t.Setenv("SWEEP_LOCK_KEY", "42")
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("SEED_FILE", "/etc/availability/seed.json")

	cfg := LoadConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.True(t, cfg.IsMemory())
	assert.Equal(t, "/etc/availability/seed.json", cfg.SeedFile)
	assert.Equal(t, 45*time.Second, cfg.SweepInterval)
	assert.Equal(t, 2*time.Minute, cfg.DefaultHoldDuration)
	assert.Equal(t, []string{"kafka", "rabbitmq"}, cfg.NotifierSinks)
	assert.Equal(t, 750*time.Millisecond, cfg.NotifierTimeout)
	assert.True(t, cfg.RedisClusterMode)
	assert.Equal(t, int64(42), cfg.SweepLockKey)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.RunMigrations)
	assert.True(t, cfg.HasSink(SinkRabbitMQ))
	assert.False(t, cfg.HasSink(SinkRedis))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"sweep interval too short", func(c *Config) { c.SweepInterval = 10 * time.Second }, "SweepInterval"},
		{"sweep interval too long", func(c *Config) { c.SweepInterval = 2 * time.Minute }, "SweepInterval"},
		{"unknown sink", func(c *Config) { c.NotifierSinks = []string{"smtp"} }, "NotifierSinks"},
		{"unknown storage driver", func(c *Config) { c.StorageDriver = "sqlite" }, "StorageDriver"},
		{"postgres without url", func(c *Config) { c.DatabaseURL = "" }, "DatabaseURL"},
		{"max hold below default", func(c *Config) { c.MaxHoldDuration = time.Minute }, "MaxHoldDuration"},
		{"no notifier workers", func(c *Config) { c.NotifierWorkers = 0 }, "NotifierWorkers"},
		{"non numeric port", func(c *Config) { c.ServerPort = "http" }, "ServerPort"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", "test")
			cfg := LoadConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfig_EngineConfig(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("MAX_QUANTITY", "25")

	engineCfg := LoadConfig().EngineConfig()

	assert.NoError(t, engineCfg.Validate())
	assert.Equal(t, 25, engineCfg.MaxQuantity)
	assert.Equal(t, 100, engineCfg.SweepBatchSize)
}
