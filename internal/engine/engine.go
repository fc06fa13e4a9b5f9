// Package engine turns raw feed frames into finalized bars, records them,
// evaluates the reversal pattern on every consecutive pair and sends alerts.
//
// The engine is a single writer: the connection supervisor calls
// HandleMessage from its read loop, one frame at a time. Alerts are queued and
// delivered by Run on its own goroutine, so a slow notifier never holds up the
// read loop. Failures of the collaborators (recorders, notifier) are logged
// and counted, never returned, so a broken sink cannot stop ingestion.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"gapsignal/internal/logger"
	"gapsignal/internal/marketdata/barstore"
	"gapsignal/internal/marketdata/delta"
	"gapsignal/internal/model"
	"gapsignal/internal/notification"
	"gapsignal/internal/strategy"
)

const (
	defaultNotifyTimeout = 15 * time.Second
	defaultAlertQueue    = 64
)

// ErrAlertQueueFull is reported through OnNotify when an alert is dropped
// because delivery has fallen behind.
var ErrAlertQueueFull = errors.New("engine: alert queue full")

// Config wires the engine's collaborators.
type Config struct {
	Symbol   string
	Strategy strategy.Strategy
	Recorder model.BarRecorder
	Notifier notification.Notifier

	// Signals receives actionable signals before they are sent. Optional.
	Signals model.SignalRecorder

	NotifyTimeout time.Duration
	AlertQueue    int // pending alerts before new ones are dropped, default 64
	Logger        *slog.Logger
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Updates        uint64 `json:"updates"`
	DecodeErrors   uint64 `json:"decode_errors"`
	Finalized      uint64 `json:"finalized"`
	Signals        uint64 `json:"signals"`
	RecordFailures uint64 `json:"record_failures"`
	NotifyFailures uint64 `json:"notify_failures"`
}

// Engine handles inbound frames for one symbol.
type Engine struct {
	cfg    Config
	log    *slog.Logger
	store  *barstore.Store
	alerts chan queuedAlert

	updates        atomic.Uint64
	decodeErrors   atomic.Uint64
	signals        atomic.Uint64
	recordFailures atomic.Uint64
	notifyFailures atomic.Uint64

	// Optional metrics hooks
	OnUpdate        func(bar model.Bar)
	OnDecodeError   func()
	OnFinalize      func(bar model.Bar)
	OnSignal        func(sig model.Signal)
	OnRecordFailure func()
	OnNotify        func(d time.Duration, err error)
}

// New creates an engine. Symbol, Strategy, Recorder and Notifier are required.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Symbol == "":
		return nil, errors.New("engine: symbol is required")
	case cfg.Strategy == nil:
		return nil, errors.New("engine: strategy is required")
	case cfg.Recorder == nil:
		return nil, errors.New("engine: recorder is required")
	case cfg.Notifier == nil:
		return nil, errors.New("engine: notifier is required")
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.AlertQueue <= 0 {
		cfg.AlertQueue = defaultAlertQueue
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		log:    cfg.Logger.With(slog.String("component", "engine"), slog.String("symbol", cfg.Symbol)),
		store:  barstore.New(),
		alerts: make(chan queuedAlert, cfg.AlertQueue),
	}, nil
}

// Store exposes the bar window, read-only use.
func (e *Engine) Store() *barstore.Store { return e.store }

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Updates:        e.updates.Load(),
		DecodeErrors:   e.decodeErrors.Load(),
		Finalized:      e.store.Finalized(),
		Signals:        e.signals.Load(),
		RecordFailures: e.recordFailures.Load(),
		NotifyFailures: e.notifyFailures.Load(),
	}
}

// HandleMessage decodes one frame and applies it.
func (e *Engine) HandleMessage(ctx context.Context, raw []byte) {
	msg, err := delta.Decode(raw)
	if err != nil {
		e.decodeErrors.Add(1)
		if e.OnDecodeError != nil {
			e.OnDecodeError()
		}
		e.log.Warn("dropping frame", slog.String("error", err.Error()), slog.Int("bytes", len(raw)))
		return
	}

	switch msg.Kind {
	case delta.KindCandle:
		if msg.Bar.Symbol != e.cfg.Symbol {
			e.log.Debug("ignoring candle for other symbol", slog.String("got", msg.Bar.Symbol))
			return
		}
		e.Ingest(ctx, msg.Bar)
	case delta.KindError:
		e.log.Warn("feed error", slog.String("message", msg.Error))
	case delta.KindSubscriptions:
		e.log.Info("subscription acknowledged")
	default:
		e.log.Debug("ignoring message", slog.String("type", msg.Type))
	}
}

// Ingest applies one candle snapshot. When it rolls the period over, the
// finished bar is recorded and evaluated against the bar before it.
func (e *Engine) Ingest(ctx context.Context, update model.Bar) {
	e.updates.Add(1)
	if e.OnUpdate != nil {
		e.OnUpdate(update)
	}

	res := e.store.Ingest(update)
	if !res.Closed() {
		return
	}
	e.onFinalized(ctx, *res.Finalized, res.Previous)
}

func (e *Engine) onFinalized(ctx context.Context, bar model.Bar, prev *model.Bar) {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(bar.Symbol, bar.PeriodStart))
	trace := logger.LogWithTrace(ctx)

	e.log.Info("Final 5m candle closed", append(trace,
		slog.String("time", bar.LocalTime()),
		slog.String("open", bar.Open.String()),
		slog.String("high", bar.High.String()),
		slog.String("low", bar.Low.String()),
		slog.String("close", bar.Close.String()),
		slog.String("volume", bar.Volume.String()),
	)...)
	if e.OnFinalize != nil {
		e.OnFinalize(bar)
	}

	if err := e.cfg.Recorder.Record(ctx, bar); err != nil {
		e.recordFailed(ctx, "record bar failed", err)
	}

	if prev == nil {
		return
	}

	sig := e.cfg.Strategy.Evaluate(*prev, bar)
	if e.OnSignal != nil {
		e.OnSignal(sig)
	}
	if !sig.Actionable() {
		e.log.Debug("no signal", trace...)
		return
	}
	e.signals.Add(1)
	e.log.Info("signal detected", append(trace,
		slog.String("strategy", sig.Strategy),
		slog.String("direction", string(sig.Direction)),
		slog.String("ltp", sig.LTP.String()),
	)...)

	if e.cfg.Signals != nil {
		if err := e.cfg.Signals.RecordSignal(ctx, sig); err != nil {
			e.recordFailed(ctx, "record signal failed", err)
		}
	}
	e.enqueue(ctx, sig)
}

type queuedAlert struct {
	traceID string
	sig     model.Signal
}

func (e *Engine) enqueue(ctx context.Context, sig model.Signal) {
	select {
	case e.alerts <- queuedAlert{traceID: logger.TraceID(ctx), sig: sig}:
	default:
		e.notifyFailed(ctx, 0, ErrAlertQueueFull)
	}
}

// Run delivers queued alerts until ctx is cancelled, then flushes whatever
// is still queued before returning. Alerts are sent one at a time, in order.
// Cancelling ctx does not abort a send in flight; NotifyTimeout bounds it.
func (e *Engine) Run(ctx context.Context) error {
	sendCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			e.flush(sendCtx)
			return nil
		case a := <-e.alerts:
			e.deliver(sendCtx, a)
		}
	}
}

func (e *Engine) flush(ctx context.Context) {
	for {
		select {
		case a := <-e.alerts:
			e.deliver(ctx, a)
		default:
			return
		}
	}
}

// Pending reports how many alerts are waiting for delivery.
func (e *Engine) Pending() int { return len(e.alerts) }

func (e *Engine) deliver(ctx context.Context, a queuedAlert) {
	ctx = logger.WithTraceID(ctx, a.traceID)
	ctx, cancel := context.WithTimeout(ctx, e.cfg.NotifyTimeout)
	defer cancel()

	start := time.Now()
	err := e.send(ctx, notification.FromSignal(a.sig))
	if err != nil {
		e.notifyFailed(ctx, time.Since(start), err)
		return
	}
	if e.OnNotify != nil {
		e.OnNotify(time.Since(start), nil)
	}
	e.log.Info("alert sent", logger.LogWithTrace(ctx)...)
}

// send turns a notifier panic into an error like any other delivery failure.
func (e *Engine) send(ctx context.Context, alert notification.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: notifier panicked: %v", r)
		}
	}()
	return e.cfg.Notifier.Send(ctx, alert)
}

func (e *Engine) notifyFailed(ctx context.Context, d time.Duration, err error) {
	e.notifyFailures.Add(1)
	if e.OnNotify != nil {
		e.OnNotify(d, err)
	}
	e.log.Error("alert delivery failed", append(logger.LogWithTrace(ctx), slog.String("error", err.Error()))...)
}

func (e *Engine) recordFailed(ctx context.Context, msg string, err error) {
	e.recordFailures.Add(1)
	if e.OnRecordFailure != nil {
		e.OnRecordFailure()
	}
	e.log.Error(msg, append(logger.LogWithTrace(ctx), slog.String("error", err.Error()))...)
}
