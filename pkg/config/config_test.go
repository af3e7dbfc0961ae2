package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
symbols:
  - AAPL
  - MSFT
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Symbols)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 500, cfg.Cache.Capacity)
	assert.Equal(t, "normal", cfg.Cache.UpdateStrategy)
	assert.Equal(t, "America/New_York", cfg.Schedule.Timezone)
	assert.Equal(t, "09:30", cfg.Schedule.OpenTime)
	assert.Equal(t, 30, cfg.Events.RateLimitPerMinute)
	assert.Equal(t, 0.5, cfg.Monitor.MinConfidence)
	assert.Equal(t, "quotepulse.quotes", cfg.Kafka.QuotesTopic)
	assert.True(t, cfg.Sources.Fixture.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadOverridesFromYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
environment: production
symbols: [AAPL]
priorities:
  AAPL: critical
server:
  port: 9090
cache:
  update_strategy: lazy
events:
  rate_limit_per_minute: 5
`))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "lazy", cfg.Cache.UpdateStrategy)
	assert.Equal(t, 5, cfg.Events.RateLimitPerMinute)
	assert.Equal(t, "critical", cfg.Priorities["AAPL"])
}

func TestLoadRequiresSymbols(t *testing.T) {
	_, err := Load(writeConfig(t, `symbols: []`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadStrategy(t *testing.T) {
	_, err := Load(writeConfig(t, `
symbols: [AAPL]
cache:
  update_strategy: yolo
`))
	assert.Error(t, err)
}

func TestValidateRejectsInvertedTTLBounds(t *testing.T) {
	_, err := Load(writeConfig(t, `
symbols: [AAPL]
cache:
  min_ttl: 1h
  max_ttl: 1m
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_ttl")
}

func TestValidateRejectsNonIncreasingThresholds(t *testing.T) {
	_, err := Load(writeConfig(t, `
symbols: [AAPL]
monitor:
  fresh_threshold: 10m
  aging_threshold: 5m
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increasing")
}

func TestValidateKafkaNeedsBrokers(t *testing.T) {
	_, err := Load(writeConfig(t, `
symbols: [AAPL]
kafka:
  enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brokers")
}

func TestValidateRejectsBadClockFormat(t *testing.T) {
	_, err := Load(writeConfig(t, `
symbols: [AAPL]
schedule:
  open_time: "9h30"
`))
	assert.Error(t, err)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("SYMBOLS", "TSLA,NVDA")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := LoadWithEnv(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"TSLA", "NVDA"}, cfg.Symbols)
	assert.True(t, cfg.Cache.Mirror.Enabled)
	assert.Equal(t, "redis:6379", cfg.Cache.Mirror.Addr)
}
