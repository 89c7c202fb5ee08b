package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	loader, err := Load(writeConfig(t, `
app:
  log_level: debug
exchange:
  testnet: true
`))
	require.NoError(t, err)

	cfg := loader.Current()
	require.Equal(t, "debug", cfg.App.LogLevel)
	require.Equal(t, "binance", cfg.Exchange.Name)
	require.True(t, cfg.Exchange.Testnet)
	require.Equal(t, "data/candles", cfg.Cache.Dir)
	require.Equal(t, "data/runs.db", cfg.Results.Path)
	require.Equal(t, ":9991", cfg.API.Addr)
	require.Equal(t, "1m", cfg.Backtest.BaseInterval)
	require.Equal(t, map[string]float64{"USDT": 10000}, cfg.Backtest.Portfolio)
}

func TestLoadParsesDurationsAndSections(t *testing.T) {
	loader, err := Load(writeConfig(t, `
exchange:
  api_key: k
  api_secret: s
  http_timeout: 30s
  rate_limit_per_min: 600
cache:
  dir: /tmp/candles
api:
  enabled: true
  addr: ":8080"
backtest:
  base_interval: 5m
  profiles: profiles.yaml
  portfolio:
    USDT: 2500
    BTC: 0.5
`))
	require.NoError(t, err)

	cfg := loader.Current()
	require.Equal(t, 30*time.Second, cfg.Exchange.HTTPTimeout)
	require.Equal(t, 600, cfg.Exchange.RateLimitPerMin)
	require.Equal(t, "/tmp/candles", cfg.Cache.Dir)
	require.True(t, cfg.API.Enabled)
	require.Equal(t, ":8080", cfg.API.Addr)
	require.Equal(t, "5m", cfg.Backtest.BaseInterval)
	require.Equal(t, "profiles.yaml", cfg.Backtest.Profiles)
	require.Equal(t, map[string]float64{"USDT": 2500, "BTC": 0.5}, cfg.Backtest.Portfolio)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	_, err := Load(writeConfig(t, "backtest:\n  base_interval: 7x\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "exchange:\n  name: kraken\n"))
	require.Error(t, err)

	_, err = Load("")
	require.Error(t, err)
}
