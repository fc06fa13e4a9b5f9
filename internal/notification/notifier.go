// Package notification delivers signal alerts to external channels
// (Telegram, webhooks, the log).
package notification

import (
	"context"
	"log/slog"

	"gapsignal/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Icon    string     `json:"icon,omitempty"`
	Title   string     `json:"title"`
	Message string     `json:"message"`

	// Signal is the reversal that raised the alert, nil for plain alerts.
	// Channels with structured payloads read it instead of Message.
	Signal *model.Signal `json:"-"`
}

// FromSignal builds the alert for a reversal signal.
func FromSignal(sig model.Signal) Alert {
	return Alert{
		Level:   AlertInfo,
		Icon:    sig.Icon(),
		Title:   sig.Title(),
		Message: sig.Body(),
		Signal:  &sig,
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier only logs alerts. Used when no delivery channel is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.InfoContext(ctx, "alert",
		slog.String("level", string(alert.Level)),
		slog.String("title", alert.Title),
		slog.String("message", alert.Message),
	)
	return nil
}
