package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Hub.DrainInterval)
	assert.Equal(t, 100, cfg.Mailbox.DrainPageSize)
	assert.Equal(t, 5*time.Minute, cfg.WebRTC.ConfigTTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Cluster.Enabled)
	assert.False(t, cfg.Backup.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"zero ping interval", func(c *Config) { c.Hub.PingInterval = 0 }},
		{"zero send buffer", func(c *Config) { c.Hub.SendBuffer = 0 }},
		{"zero drain page size", func(c *Config) { c.Mailbox.DrainPageSize = 0 }},
		{"zero ice config ttl", func(c *Config) { c.WebRTC.ConfigTTL = 0 }},
		{"turn secret without urls", func(c *Config) { c.WebRTC.TURNSecret = "s3cret" }},
		{"empty log level", func(c *Config) { c.Logging.Level = "" }},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"admin auth without secret", func(c *Config) { c.Auth.AdminEnabled = true }},
		{"cluster without redis", func(c *Config) { c.Cluster.Enabled = true }},
		{"backup without directory", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Directory = ""
		}},
		{"backup zero interval", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Interval = 0
		}},
		{"rate limit zero rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.RequestsPerSecond = 0
		}},
		{"tracing sample rate out of range", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 1.5
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

func TestValidateAcceptsClusterWithRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Cluster.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  address: ":9000"
hub:
  drain_interval: 10s
mailbox:
  drain_page_size: 25
backup:
  enabled: true
  directory: /var/lib/pairlink/backups
  interval: 30m
  retention: 48h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Hub.DrainInterval)
	assert.Equal(t, 25, cfg.Mailbox.DrainPageSize)
	assert.True(t, cfg.Backup.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Backup.Interval)
	assert.Equal(t, 48*time.Hour, cfg.Backup.Retention)

	// Untouched sections keep defaults.
	assert.Equal(t, 30*time.Second, cfg.Hub.PingInterval)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \"\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PAIRLINK_SERVER_ADDRESS", ":7070")
	t.Setenv("PAIRLINK_LOG_LEVEL", "debug")
	t.Setenv("PAIRLINK_INSTANCE_ID", "hub-2")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "hub-2", cfg.Cluster.InstanceID)
}
