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

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends events via the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	policy   RetryPolicy
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken, chatID string, policy RetryPolicy) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		policy: policy,
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, ev model.AlertEvent) error {
	emoji := "🔔"
	switch ev.Kind {
	case model.AlertTime:
		emoji = "⏰"
	case model.AlertRegionTouch:
		emoji = "🎯"
	}

	text := fmt.Sprintf("%s *%s*\n\n%s", emoji, escapeMarkdown(Title(ev)), escapeMarkdown(Message(ev)))

	body, _ := json.Marshal(map[string]interface{}{
		"chat_id":              t.chatID,
		"text":                 text,
		"parse_mode":           "MarkdownV2",
		"disable_notification": ev.Sound == "none",
	})

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	err := postWithRetry(ctx, t.client, t.policy, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}

	slog.Debug("telegram delivered", "event_id", ev.ID)
	return nil
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
