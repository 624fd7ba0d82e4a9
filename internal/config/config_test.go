package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/screenhub/internal/model"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Versions.MaxVersions)
	assert.Equal(t, 24, cfg.Backup.MaxBackups)
	assert.Equal(t, time.Hour, cfg.Backup.Interval)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown store", func(c *Config) { c.Store.Backend = "etcd" }},
		{"postgres without host", func(c *Config) { c.Store.Backend = "postgres"; c.Database.Host = "" }},
		{"sqlite without path", func(c *Config) { c.Store.Backend = "sqlite"; c.SQLite.Path = "" }},
		{"redis publish without redis", func(c *Config) { c.Publish.Backend = "redis" }},
		{"mqtt bad qos", func(c *Config) { c.Publish.Backend = "mqtt"; c.MQTT.QoS = 3 }},
		{"unknown format", func(c *Config) { c.Publish.Format = "xml" }},
		{"zero versions", func(c *Config) { c.Versions.MaxVersions = 0 }},
		{"inverted threshold", func(c *Config) {
			c.Health.Thresholds["store_latency"] = model.Threshold{Warning: 500, Critical: 100}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "screenhub.yaml")
	content := `
server:
  port: 9191
store:
  backend: sqlite
sqlite:
  path: /tmp/screens.db
versions:
  max_versions: 5
backup:
  interval: 30m
health:
  thresholds:
    store_latency:
      warning: 50
      critical: 200
publish:
  format: protobuf
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SCREENHUB_ENVIRONMENT", "staging")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/tmp/screens.db", cfg.SQLite.Path)
	assert.Equal(t, 5, cfg.Versions.MaxVersions)
	assert.Equal(t, 30*time.Minute, cfg.Backup.Interval)
	assert.Equal(t, 50.0, cfg.Health.Thresholds["store_latency"].Warning)
	assert.Equal(t, "protobuf", cfg.Publish.Format)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "staging", cfg.Resolver.Environment)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("SCREENHUB_PUBLISH_BACKEND", "redis")
	t.Setenv("SCREENHUB_HEALTH_INTERVAL", "10s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache.internal", cfg.Redis.Host)
	assert.Equal(t, "redis", cfg.Publish.Backend)
	assert.Equal(t, 10*time.Second, cfg.Health.Interval)
}
