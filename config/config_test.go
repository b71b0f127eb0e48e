package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("APP_ENV", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, 10, cfg.RecentLimit)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 500, cfg.RepairBatchSize)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.InDelta(t, 1.0, cfg.TraceSampleRatio, 0)
	assert.False(t, cfg.InMemory())
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed-sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: prod
http_port: "9000"
recent_limit: 25
allowed_origins:
  - https://greenloops.app
`), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("APP_ENV", "")
	t.Setenv("FEED_RECENT_LIMIT", "")
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "9100", cfg.HTTPPort, "environment wins over the file")
	assert.Equal(t, 25, cfg.RecentLimit)
	assert.InDelta(t, 0.25, cfg.TraceSampleRatio, 1e-9)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	t.Run("non-positive limit", func(t *testing.T) {
		t.Setenv("FEED_PAGE_SIZE", "0")
		_, err := Load()
		assert.ErrorContains(t, err, "page_size must be positive")
	})

	t.Run("not a number", func(t *testing.T) {
		t.Setenv("REPAIR_BATCH_SIZE", "lots")
		_, err := Load()
		assert.ErrorContains(t, err, "REPAIR_BATCH_SIZE")
	})

	t.Run("sample ratio out of range", func(t *testing.T) {
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")
		_, err := Load()
		assert.ErrorContains(t, err, "trace_sample_ratio must be between 0 and 1")
	})

	t.Run("sample ratio not a number", func(t *testing.T) {
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "half")
		_, err := Load()
		assert.ErrorContains(t, err, "OTEL_TRACES_SAMPLER_ARG")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := Load()
		assert.ErrorContains(t, err, "read config file")
	})
}
