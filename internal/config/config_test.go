package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "learnsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/learnsync
driver: sqlite
sync:
  interval: 2m
  concurrency: 8
log:
  format: json
`)
	t.Setenv("LEARNSYNC_SYNC_CONCURRENCY", "2")
	t.Setenv("LEARNSYNC_REMOTE_TIMEOUT", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/learnsync", cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, time.Hour, cfg.Sync.MaxInterval)
	assert.Equal(t, 2, cfg.Sync.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, "data_dri: x\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_dri")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Driver = "postgres" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"listen without port", func(c *Config) { c.Listen = "localhost" }},
		{"zero concurrency", func(c *Config) { c.Sync.Concurrency = 0 }},
		{"interval below a second", func(c *Config) { c.Sync.Interval = 10 * time.Millisecond }},
		{"max interval below interval", func(c *Config) { c.Sync.MaxInterval = time.Minute }},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Problems)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.Logger(&buf, false).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Level: "warn", Format: "json"}.Logger(&buf, true).Debug("shown", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
