package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.Binance.BaseURL)
	assert.Equal(t, DefaultLimit, cfg.Fetch.Limit)
	assert.Equal(t, DefaultMaxAttempts, cfg.Fetch.MaxAttempts)
	assert.Equal(t, DefaultInterval, cfg.Fetch.Interval)
	assert.Equal(t, DefaultInterPageMS, cfg.Fetch.InterPageDelayMS)
	assert.InDelta(t, DefaultCapital, cfg.Backtest.InitialCapital, 1e-9)
	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  log_level: debug
binance:
  base_url: https://testnet.binance.vision
  timeout_seconds: 5
fetch:
  source: sdk
  interval: 1h
  limit: 500
  max_attempts: 3
server:
  enabled: true
  addr: ":8080"
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "https://testnet.binance.vision", cfg.Binance.BaseURL)
	assert.Equal(t, 5, cfg.Binance.TimeoutSeconds)
	assert.Equal(t, "sdk", cfg.Fetch.Source)
	assert.Equal(t, "1h", cfg.Fetch.Interval)
	assert.Equal(t, 500, cfg.Fetch.Limit)
	assert.Equal(t, 3, cfg.Fetch.MaxAttempts)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	// 未覆盖的仍取缺省
	assert.Equal(t, DefaultInterPageMS, cfg.Fetch.InterPageDelayMS)
}

func TestLoadRejectsBadLimit(t *testing.T) {
	_, err := Load(writeConfig(t, "fetch:\n  limit: 1001\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "fetch:\n  limit: -1\n"))
	assert.Error(t, err)
}

func TestLoadRejectsBadInterval(t *testing.T) {
	_, err := Load(writeConfig(t, "fetch:\n  interval: 7m\n"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownSource(t *testing.T) {
	_, err := Load(writeConfig(t, "fetch:\n  source: graphql\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
