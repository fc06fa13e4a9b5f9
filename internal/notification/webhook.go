package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"gapsignal/internal/model"
)

// WebhookNotifier POSTs alerts as JSON to an HTTP endpoint. Signal alerts
// carry the bar and pattern fields so receivers need not parse the text.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier. Any 2xx response counts as
// delivered.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// webhookPayload is the request body. Event is "signal" when Signal is set.
type webhookPayload struct {
	Event   string         `json:"event"`
	Level   AlertLevel     `json:"level"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	SentAt  string         `json:"sent_at"`
	Signal  *signalPayload `json:"signal,omitempty"`
}

type signalPayload struct {
	Strategy    string          `json:"strategy"`
	Symbol      string          `json:"symbol"`
	Direction   model.Direction `json:"direction"`
	LTP         decimal.Decimal `json:"ltp"`
	BarTime     string          `json:"bar_time"` // IST, as in the CSV log
	PeriodStart int64           `json:"candle_start_time"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	PrevOpen    decimal.Decimal `json:"prev_open"`
	PrevClose   decimal.Decimal `json:"prev_close"`
}

func newWebhookPayload(alert Alert, now time.Time) webhookPayload {
	p := webhookPayload{
		Event:   "alert",
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		SentAt:  now.UTC().Format(time.RFC3339Nano),
	}
	if sig := alert.Signal; sig != nil {
		p.Event = "signal"
		p.Signal = &signalPayload{
			Strategy:    sig.Strategy,
			Symbol:      sig.Bar.Symbol,
			Direction:   sig.Direction,
			LTP:         sig.LTP,
			BarTime:     sig.Bar.LocalTime(),
			PeriodStart: sig.Bar.PeriodStart,
			Open:        sig.Bar.Open,
			High:        sig.Bar.High,
			Low:         sig.Bar.Low,
			Close:       sig.Bar.Close,
			Volume:      sig.Bar.Volume,
			PrevOpen:    sig.PrevOpen,
			PrevClose:   sig.PrevClose,
		}
	}
	return p
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	payload := newWebhookPayload(alert, time.Now())
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}

	slog.DebugContext(ctx, "webhook alert sent", slog.String("event", payload.Event), slog.String("title", alert.Title))
	return nil
}
