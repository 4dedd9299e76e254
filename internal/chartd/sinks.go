package chartd

import (
	"context"
	"log/slog"
	"time"

	"chartcore/config"
	"chartcore/internal/alert"
	"chartcore/internal/model"
	"chartcore/internal/notification"
	redisstore "chartcore/internal/store/redis"
)

// counterStore persists alert trigger counters.
type counterStore interface {
	UpdateAlertTriggers(ctx context.Context, symbol, id string, triggers int, last *time.Time) error
}

// journalSink feeds the event journal and writes back the trigger counter
// of the alert that fired, keeping storage IO off the sampling tick.
type journalSink struct {
	symbol string
	book   *alert.Book
	store  counterStore
	events chan<- model.AlertEvent
}

func (j *journalSink) Send(ctx context.Context, ev model.AlertEvent) error {
	select {
	case j.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}
	a, ok := j.book.Alert(ev.AlertID)
	if !ok {
		// removed between firing and delivery
		return nil
	}
	return j.store.UpdateAlertTriggers(ctx, j.symbol, a.ID, a.Triggers, a.LastTriggeredAt)
}

// buildSinks assembles the notification sinks enabled by cfg. The journal
// sink always comes first. The returned closers release sink resources.
func (s *Service) buildSinks(cfg *config.Config, journal notification.Notifier) ([]notification.Sink, []func() error) {
	sinks := []notification.Sink{
		{Name: "journal", Notifier: journal},
		{Name: "log", Notifier: notification.NewLogNotifier(slog.Default().With("sink", "alerts"))},
		{Name: "stream", Notifier: s.hub},
	}
	var closers []func() error

	if s.rdb != nil {
		cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			s.prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				s.prom.RedisCircuitBreakerTrips.Inc()
			}
			slog.Warn("redis circuit breaker state change", "from", from.String(), "to", to.String())
		}
		pub := redisstore.NewBufferedPublisher(s.rdb, cb, cfg.AlertChannel, 0)
		pub.OnFlush = func(n int) { slog.Info("replayed buffered alert events", "count", n) }
		sinks = append(sinks, notification.Sink{Name: "redis", Notifier: notification.NewRedisNotifier(pub)})
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notification.Sink{
			Name:     "webhook",
			Notifier: notification.NewWebhookNotifier(cfg.WebhookURL, notification.DefaultRetryPolicy),
		})
	}
	if cfg.TelegramToken != "" {
		sinks = append(sinks, notification.Sink{
			Name:     "telegram",
			Notifier: notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, notification.DefaultRetryPolicy),
		})
	}
	if brokers := notification.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		k := notification.NewKafkaNotifier(brokers, cfg.KafkaTopic, "chartd", cfg.Symbol)
		sinks = append(sinks, notification.Sink{Name: "kafka", Notifier: k})
		closers = append(closers, k.Close)
	}
	return sinks, closers
}
