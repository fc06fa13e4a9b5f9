// Package redis mirrors finalized bars and signals into Redis Streams so
// other services can consume them, and publishes signals over PubSub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"gapsignal/internal/model"
)

const (
	// ~3.5 days of 5m bars
	defaultMaxLen    = 1000
	defaultOpTimeout = 2 * time.Second
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	MaxLen   int64 // approximate stream length cap, defaults to 1000
}

// Writer writes bars and signals to Redis. Every call goes through a circuit
// breaker and a short timeout: a dead Redis costs the bar handler at most one
// timeout per reset window.
type Writer struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	maxLen  int64
}

// New creates a Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", slog.String("addr", cfg.Addr))
	return NewWithClient(client, cfg.MaxLen), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, maxLen int64) *Writer {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Writer{
		client:  client,
		breaker: NewCircuitBreaker(3, 30*time.Second),
		maxLen:  maxLen,
	}
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Breaker exposes the circuit breaker so callers can observe transitions.
func (w *Writer) Breaker() *CircuitBreaker { return w.breaker }

// BarStreamKey returns "bar:5m:{symbol}".
func BarStreamKey(symbol string) string { return "bar:5m:" + symbol }

// SignalStreamKey returns "signal:{symbol}".
func SignalStreamKey(symbol string) string { return "signal:" + symbol }

// SignalChannel returns the PubSub channel "pub:signal:{symbol}".
func SignalChannel(symbol string) string { return "pub:signal:" + symbol }

// BarValues flattens a bar into stream entry fields.
func BarValues(bar model.Bar) map[string]interface{} {
	return map[string]interface{}{
		"period_start": bar.PeriodStart,
		"ts":           bar.Timestamp,
		"open":         bar.Open.String(),
		"high":         bar.High.String(),
		"low":          bar.Low.String(),
		"close":        bar.Close.String(),
		"volume":       bar.Volume.String(),
	}
}

// Record appends a finalized bar to the symbol's bar stream.
func (w *Writer) Record(ctx context.Context, bar model.Bar) error {
	err := w.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
		defer cancel()
		return w.client.XAdd(ctx, &goredis.XAddArgs{
			Stream: BarStreamKey(bar.Symbol),
			MaxLen: w.maxLen,
			Approx: true,
			Values: BarValues(bar),
		}).Err()
	})
	if err != nil {
		return fmt.Errorf("redis xadd bar %s: %w", bar.Key(), err)
	}
	return nil
}

// RecordSignal appends the signal to the signal stream and publishes it.
func (w *Writer) RecordSignal(ctx context.Context, sig model.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("redis marshal signal: %w", err)
	}
	symbol := sig.Bar.Symbol

	err = w.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
		defer cancel()
		pipe := w.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: SignalStreamKey(symbol),
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"direction": string(sig.Direction),
				"data":      string(data),
			},
		})
		pipe.Publish(ctx, SignalChannel(symbol), data)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("redis publish signal: %w", err)
	}
	return nil
}

// Close closes the client.
func (w *Writer) Close() error {
	return w.client.Close()
}
