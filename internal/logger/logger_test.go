package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo, "")
	require.NotNil(t, logger)
}

func TestInit_WritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gapsignal.log")
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	logger := Init("test-service", slog.LevelDebug, path)
	logger.Debug("bar finalized", slog.String("symbol", "BTCUSD"))
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"bar finalized"`)
	assert.Contains(t, string(data), `"service":"test-service"`)
	assert.Contains(t, string(data), `"symbol":"BTCUSD"`)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TraceID(ctx))

	ctx = WithTraceID(ctx, "test-trace-123")
	assert.Equal(t, "test-trace-123", TraceID(ctx))
}

func TestGenerateTraceID(t *testing.T) {
	assert.Equal(t, "BTCUSD-1700000100000000", GenerateTraceID("BTCUSD", 1700000100000000))
}

func TestLogWithTrace(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, LogWithTrace(ctx))

	ctx = WithTraceID(ctx, "abc-123")
	attrs := LogWithTrace(ctx)
	require.Len(t, attrs, 1)
	assert.Equal(t, slog.String("trace_id", "abc-123"), attrs[0])
}
