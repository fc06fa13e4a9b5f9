package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal service.
type Metrics struct {
	UpdatesTotal   prometheus.Counter
	DecodeErrors   prometheus.Counter
	BarsFinalized  prometheus.Counter
	SignalsTotal   *prometheus.CounterVec // labels: direction
	RecordFailures prometheus.Counter
	NotifyFailures prometheus.Counter
	NotifyDur      prometheus.Histogram
	BarLag         prometheus.Gauge

	WSReconnects prometheus.Counter
	WSState      prometheus.Gauge // ws.State value

	// Circuit breaker metrics
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapsignal_candle_updates_total",
			Help: "Candlestick updates received for the configured symbol",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapsignal_decode_errors_total",
			Help: "Inbound frames dropped because they could not be decoded",
		}),
		BarsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapsignal_bars_finalized_total",
			Help: "Bars finalized on period rollover",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapsignal_signals_total",
			Help: "Pattern evaluations by direction",
		}, []string{"direction"}),
		RecordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapsignal_record_failures_total",
			Help: "Finalized bars or signals that failed to persist",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapsignal_notify_failures_total",
			Help: "Alerts that could not be delivered",
		}),
		NotifyDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gapsignal_notify_duration_seconds",
			Help:    "Alert delivery latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		BarLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapsignal_bar_lag_seconds",
			Help: "Lag between the last snapshot timestamp of a finalized bar and its finalization",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapsignal_ws_reconnects_total",
			Help: "WebSocket reconnection attempts",
		}),
		WSState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapsignal_ws_state",
			Help: "Connection state (0=disconnected, 1=connecting, 2=subscribed, 3=streaming, 4=closed, 5=errored)",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapsignal_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapsignal_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.UpdatesTotal,
		m.DecodeErrors,
		m.BarsFinalized,
		m.SignalsTotal,
		m.RecordFailures,
		m.NotifyFailures,
		m.NotifyDur,
		m.BarLag,
		m.WSReconnects,
		m.WSState,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastUpdateTime time.Time `json:"last_update_time"`
	LastBarTime    time.Time `json:"last_bar_time"`

	// Optional sinks are only part of the verdict once enabled.
	redisEnabled    bool
	sqliteEnabled   bool
	RedisConnected  bool      `json:"redis_connected"`
	SQLiteOK        bool      `json:"sqlite_ok"`
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastUpdateTime(t time.Time) {
	h.mu.Lock()
	h.LastUpdateTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

// EnableRedis marks Redis as a sink whose health counts.
func (h *HealthStatus) EnableRedis() {
	h.mu.Lock()
	h.redisEnabled = true
	h.RedisConnected = true
	h.mu.Unlock()
}

// EnableSQLite marks SQLite as a sink whose health counts.
func (h *HealthStatus) EnableSQLite() {
	h.mu.Lock()
	h.sqliteEnabled = true
	h.SQLiteOK = true
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	sinksOK := (!h.redisEnabled || h.RedisConnected) && (!h.sqliteEnabled || h.SQLiteOK)
	switch {
	case !h.WSConnected:
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	case !sinksOK:
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	updateAge := ""
	if !h.LastUpdateTime.IsZero() {
		updateAge = time.Since(h.LastUpdateTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		WSConnected     bool     `json:"ws_connected"`
		LastUpdateTime  string   `json:"last_update_time"`
		UpdateAge       string   `json:"update_age"`
		LastBarTime     string   `json:"last_bar_time"`
		RedisConnected  *bool    `json:"redis_connected,omitempty"`
		RedisLatencyMs  *float64 `json:"redis_latency_ms,omitempty"`
		SQLiteOK        *bool    `json:"sqlite_ok,omitempty"`
		SQLiteLatencyMs *float64 `json:"sqlite_latency_ms,omitempty"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:    h.WSConnected,
		LastUpdateTime: h.LastUpdateTime.Format(time.RFC3339),
		UpdateAge:      updateAge,
		LastBarTime:    h.LastBarTime.Format(time.RFC3339),
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}
	if h.redisEnabled {
		connected, latency := h.RedisConnected, h.RedisLatencyMs
		status.RedisConnected, status.RedisLatencyMs = &connected, &latency
	}
	if h.sqliteEnabled {
		ok, latency := h.SQLiteOK, h.SQLiteLatencyMs
		status.SQLiteOK, status.SQLiteLatencyMs = &ok, &latency
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server serving metrics from g.
func NewServer(addr string, health *HealthStatus, g prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
