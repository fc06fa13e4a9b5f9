package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Feed
	Endpoints []string
	Symbol    string

	// Connection supervision
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration

	// Alerts
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string

	// Storage
	CSVFile       string
	SQLitePath    string // empty disables the SQLite archive
	RedisAddr     string // empty disables the Redis publisher
	RedisPassword string

	// Observability
	MetricsAddr string // empty disables /metrics and /healthz
	LogLevel    string
	LogFile     string
}

// Load reads an optional .env file and then the environment, applying
// defaults for anything unset.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	return &Config{
		Endpoints: splitList(getEnv("WS_URLS", "wss://socket.india.delta.exchange")),
		Symbol:    getEnv("SYMBOL", "BTCUSD"),

		MaxReconnectAttempts: getInt("MAX_RECONNECT_ATTEMPTS", 5),
		ReconnectBackoff:     getDuration("RECONNECT_BACKOFF", 10*time.Second),
		HeartbeatInterval:    getDuration("HEARTBEAT_INTERVAL", 60*time.Second),
		HeartbeatTimeout:     getDuration("HEARTBEAT_TIMEOUT", 10*time.Second),

		TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),

		CSVFile:       getEnv("CSV_FILE", "btcusd_realtime_candles.csv"),
		SQLitePath:    getEnv("SQLITE_PATH", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
	}
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("config: WS_URLS is empty")
	}
	if c.Symbol == "" {
		return errors.New("config: SYMBOL is empty")
	}
	if c.CSVFile == "" {
		return errors.New("config: CSV_FILE is empty")
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		return errors.New("config: TELEGRAM_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("config: MAX_RECONNECT_ATTEMPTS must be >= 1, got %d", c.MaxReconnectAttempts)
	}
	return nil
}

// TelegramEnabled is true when both bot credentials are present.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

// getDuration accepts Go durations ("10s") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
	return fallback
}
