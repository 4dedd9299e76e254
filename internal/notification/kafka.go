package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"chartcore/internal/model"
)

// messageWriter is the subset of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes every event to a Kafka topic, keyed by alert id so
// the events of one alert stay ordered within a partition.
type KafkaNotifier struct {
	w      messageWriter
	symbol string
}

// NewKafkaNotifier creates a synchronous writer for topic.
func NewKafkaNotifier(brokers []string, topic, clientID, symbol string) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Transport: &kafka.Transport{
			ClientID: clientID,
		},
	}
	return &KafkaNotifier{w: w, symbol: symbol}
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (k *KafkaNotifier) Send(ctx context.Context, ev model.AlertEvent) error {
	msg := kafka.Message{
		Key:   []byte(ev.AlertID),
		Value: ev.JSON(),
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "symbol", Value: []byte(k.symbol)},
		},
		Time: ev.At,
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	return k.w.Close()
}
