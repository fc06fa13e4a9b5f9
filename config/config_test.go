package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"WS_URLS", "SYMBOL", "CSV_FILE", "MAX_RECONNECT_ATTEMPTS", "RECONNECT_BACKOFF",
	"HEARTBEAT_INTERVAL", "HEARTBEAT_TIMEOUT", "TELEGRAM_TOKEN", "TELEGRAM_CHAT_ID",
	"WEBHOOK_URL", "SQLITE_PATH", "REDIS_ADDR", "REDIS_PASSWORD", "METRICS_ADDR",
	"LOG_LEVEL", "LOG_FILE",
}

// clearEnv blanks every key for the test and runs it from an empty directory
// so no .env file is picked up.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	assert.Equal(t, []string{"wss://socket.india.delta.exchange"}, cfg.Endpoints)
	assert.Equal(t, "BTCUSD", cfg.Symbol)
	assert.Equal(t, "btcusd_realtime_candles.csv", cfg.CSVFile)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 10*time.Second, cfg.ReconnectBackoff)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Empty(t, cfg.SQLitePath)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.TelegramEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WS_URLS", " wss://a.example , wss://b.example,,")
	t.Setenv("MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("RECONNECT_BACKOFF", "15")
	t.Setenv("HEARTBEAT_INTERVAL", "30s")
	t.Setenv("HEARTBEAT_TIMEOUT", "bogus")
	t.Setenv("TELEGRAM_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	cfg := Load()
	assert.Equal(t, []string{"wss://a.example", "wss://b.example"}, cfg.Endpoints)
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, 15*time.Second, cfg.ReconnectBackoff)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatTimeout)
	assert.True(t, cfg.TelegramEnabled())
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(".", ".env"), []byte("SYMBOL=ETHUSD\nCSV_FILE=eth.csv\n"), 0o644))
	// godotenv does not override variables that are already set, and
	// t.Setenv("") counts as set, so drop them first.
	os.Unsetenv("SYMBOL")
	os.Unsetenv("CSV_FILE")

	cfg := Load()
	assert.Equal(t, "ETHUSD", cfg.Symbol)
	assert.Equal(t, "eth.csv", cfg.CSVFile)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Endpoints: []string{"wss://x"}, Symbol: "BTCUSD", CSVFile: "c.csv", MaxReconnectAttempts: 5}
	}
	assert.NoError(t, base().Validate())

	c := base()
	c.Endpoints = nil
	assert.Error(t, c.Validate())

	c = base()
	c.TelegramToken = "tok"
	assert.Error(t, c.Validate())

	c = base()
	c.MaxReconnectAttempts = 0
	assert.Error(t, c.Validate())
}
