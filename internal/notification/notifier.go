// Package notification delivers alert events to external channels: logs,
// webhooks, Telegram, Redis pub/sub and Kafka. A Dispatcher fans events out
// to every configured sink off the evaluation path.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"chartcore/internal/logger"
	"chartcore/internal/model"
)

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers one event. Returns error if delivery fails.
	Send(ctx context.Context, ev model.AlertEvent) error
}

// Sink is a named Notifier; the name labels logs and metrics.
type Sink struct {
	Name string
	Notifier
}

// LogNotifier logs every event (useful for development).
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses the slog
// default.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{log: l}
}

func (n *LogNotifier) Send(ctx context.Context, ev model.AlertEvent) error {
	attrs := append([]any{
		"alert_id", ev.AlertID,
		"event_id", ev.ID,
		"kind", string(ev.Kind),
		"at", ev.At,
	}, logger.LogWithTrace(ctx)...)
	if ev.Price != nil {
		attrs = append(attrs, "price", *ev.Price)
	}
	if ev.Note != "" {
		attrs = append(attrs, "note", ev.Note)
	}
	n.log.Info("alert fired", attrs...)
	return nil
}

// Title is a one-line summary of ev.
func Title(ev model.AlertEvent) string {
	kind := strings.ReplaceAll(string(ev.Kind), "-", " ")
	if ev.Note != "" {
		return fmt.Sprintf("%s alert: %s", kind, ev.Note)
	}
	return kind + " alert"
}

// Message is the body text of ev.
func Message(ev model.AlertEvent) string {
	var b strings.Builder
	b.WriteString("alert ")
	b.WriteString(ev.AlertID)
	if ev.Price != nil {
		b.WriteString(" at price ")
		b.WriteString(strconv.FormatFloat(*ev.Price, 'f', -1, 64))
	}
	b.WriteString(" (")
	b.WriteString(ev.At.UTC().Format("2006-01-02 15:04:05 MST"))
	b.WriteString(")")
	return b.String()
}
