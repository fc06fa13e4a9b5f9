package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"gapsignal/config"
	"gapsignal/internal/engine"
	"gapsignal/internal/logger"
	"gapsignal/internal/marketdata/delta"
	"gapsignal/internal/marketdata/ws"
	"gapsignal/internal/metrics"
	"gapsignal/internal/model"
	"gapsignal/internal/notification"
	"gapsignal/internal/store"
	"gapsignal/internal/store/csvlog"
	redisstore "gapsignal/internal/store/redis"
	sqlitestore "gapsignal/internal/store/sqlite"
	"gapsignal/internal/strategy"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ---- Load config from env ----
	cfg := config.Load()

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Printf("[gapsignal] %v, using info", err)
	}
	lg := logger.Init("gapsignal", level, cfg.LogFile)
	defer logger.Close()

	if err := cfg.Validate(); err != nil {
		lg.Error("invalid configuration", slog.String("error", err.Error()))
		return 2
	}
	lg.Info("starting",
		slog.String("symbol", cfg.Symbol),
		slog.Any("endpoints", cfg.Endpoints),
		slog.String("csv", cfg.CSVFile),
	)

	// ---- Setup context for graceful shutdown ----
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Setup metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()

	// ---- Recorders ----
	csvWriter, err := csvlog.New(cfg.CSVFile)
	if err != nil {
		lg.Error("csv log init failed", slog.String("error", err.Error()))
		return 1
	}
	defer csvWriter.Close()

	recorders := store.Multi{csvWriter}
	var signalSinks store.MultiSignal

	var sqlWriter *sqlitestore.Writer
	if cfg.SQLitePath != "" {
		sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
		if err != nil {
			lg.Error("sqlite init failed", slog.String("error", err.Error()))
			return 1
		}
		defer sqlWriter.Close()
		recorders = append(recorders, sqlWriter)
		signalSinks = append(signalSinks, sqlWriter)
		health.EnableSQLite()
		last, err := sqlWriter.LastPeriodStart(ctx, cfg.Symbol)
		switch {
		case err != nil:
			log.Printf("[gapsignal] WARNING: sqlite archive unreadable: %v", err)
		case last == 0:
			log.Printf("[gapsignal] sqlite archive ready, no bars for %s yet", cfg.Symbol)
		default:
			resume := model.Bar{PeriodStart: last}
			log.Printf("[gapsignal] sqlite archive ready, resuming %s after bar starting %s IST",
				cfg.Symbol, resume.StartTime().In(model.IST).Format(model.LocalTimeLayout))
		}
	}

	var redisWriter *redisstore.Writer
	if cfg.RedisAddr != "" {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[gapsignal] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			defer redisWriter.Close()
			redisWriter.Breaker().OnStateChange = func(_, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
			}
			recorders = append(recorders, redisWriter)
			signalSinks = append(signalSinks, redisWriter)
			health.EnableRedis()
			log.Println("[gapsignal] redis publisher ready")
		}
	}

	// ---- Periodic liveness checks ----
	var rdb *goredis.Client
	if redisWriter != nil {
		rdb = redisWriter.Client()
	}
	var sqlDB *sql.DB
	if sqlWriter != nil {
		sqlDB = sqlWriter.DB()
	}
	if rdb != nil || sqlDB != nil {
		health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)
	}

	// ---- Notifiers ----
	var notifiers notification.Multi
	if cfg.TelegramEnabled() {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
		log.Println("[gapsignal] telegram alerts enabled")
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Println("[gapsignal] webhook alerts enabled")
	}
	if len(notifiers) == 0 {
		notifiers = append(notifiers, notification.NewLogNotifier(lg))
		log.Println("[gapsignal] no alert channel configured, alerts go to the log only")
	}

	// ---- Engine ----
	engCfg := engine.Config{
		Symbol:   cfg.Symbol,
		Strategy: strategy.NewGapReversal(),
		Recorder: recorders,
		Notifier: notifiers,
		Logger:   lg,
	}
	if len(signalSinks) > 0 {
		engCfg.Signals = signalSinks
	}
	eng, err := engine.New(engCfg)
	if err != nil {
		lg.Error("engine init failed", slog.String("error", err.Error()))
		return 1
	}
	eng.OnUpdate = func(model.Bar) {
		prom.UpdatesTotal.Inc()
		health.SetLastUpdateTime(time.Now())
	}
	eng.OnDecodeError = prom.DecodeErrors.Inc
	eng.OnFinalize = func(bar model.Bar) {
		prom.BarsFinalized.Inc()
		prom.BarLag.Set(time.Since(bar.Time()).Seconds())
		health.SetLastBarTime(bar.Time())
	}
	eng.OnSignal = func(sig model.Signal) {
		prom.SignalsTotal.WithLabelValues(string(sig.Direction)).Inc()
	}
	eng.OnRecordFailure = prom.RecordFailures.Inc
	eng.OnNotify = func(d time.Duration, err error) {
		prom.NotifyDur.Observe(d.Seconds())
		if err != nil {
			prom.NotifyFailures.Inc()
		}
	}

	// ---- Connection supervisor ----
	sup, err := ws.New(ws.Config{
		Endpoints:         cfg.Endpoints,
		Subscribe:         delta.NewSubscribe(delta.Channel5m, cfg.Symbol),
		MaxAttempts:       cfg.MaxReconnectAttempts,
		Backoff:           cfg.ReconnectBackoff,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
	}, eng)
	if err != nil {
		lg.Error("supervisor init failed", slog.String("error", err.Error()))
		return 1
	}
	sup.OnStateChange = func(_, to ws.State) {
		prom.WSState.Set(float64(to))
		health.SetWSConnected(to == ws.StateSubscribed || to == ws.StateStreaming)
	}
	sup.OnReconnect = func(string, int) { prom.WSReconnects.Inc() }

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, health, prometheus.DefaultGatherer)
		g.Go(func() error { return srv.Run(runCtx) })
	}
	g.Go(func() error { return eng.Run(runCtx) })
	g.Go(func() error {
		// The supervisor ends the process either way: stop the other workers too.
		defer cancelRun()
		return sup.Run(runCtx)
	})

	err = g.Wait()
	st := eng.Stats()
	lg.Info("stopped",
		slog.Uint64("updates", st.Updates),
		slog.Uint64("finalized", st.Finalized),
		slog.Uint64("signals", st.Signals),
		slog.Uint64("notify_failures", st.NotifyFailures),
		slog.Uint64("record_failures", st.RecordFailures),
	)

	switch {
	case err == nil:
		return 0
	case errors.Is(err, ws.ErrEndpointsExhausted):
		lg.Error("all endpoints failed, shutting down", slog.String("error", err.Error()))
		return 1
	default:
		lg.Error("fatal", slog.String("error", err.Error()))
		return 1
	}
}
