package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"chartcore/internal/model"
)

// WebhookNotifier POSTs every event as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	policy RetryPolicy
}

// NewWebhookNotifier creates a webhook notifier.
// url: The HTTP endpoint to POST events to.
func NewWebhookNotifier(url string, policy RetryPolicy) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		policy: policy,
	}
}

type webhookPayload struct {
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Event   model.AlertEvent `json:"event"`
	SentAt  string           `json:"sent_at"`
}

func (w *WebhookNotifier) Send(ctx context.Context, ev model.AlertEvent) error {
	body, err := json.Marshal(webhookPayload{
		Title:   Title(ev),
		Message: Message(ev),
		Event:   ev,
		SentAt:  time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	err = postWithRetry(ctx, w.client, w.policy, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", ev.ID)
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}

	slog.Debug("webhook delivered", "url", w.url, "event_id", ev.ID)
	return nil
}
