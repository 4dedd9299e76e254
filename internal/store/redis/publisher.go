package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"chartcore/internal/model"
)

// EventPublisher publishes one alert event on a channel.
type EventPublisher interface {
	PublishEvent(ctx context.Context, channel string, ev model.AlertEvent) error
}

// BufferedPublisher publishes alert events through a circuit breaker.
// While the breaker is open events are held locally, oldest dropped first
// once maxBuf is reached, and replayed when it closes again.
type BufferedPublisher struct {
	pub     EventPublisher
	cb      *CircuitBreaker
	channel string

	mu     sync.Mutex
	buffer []model.AlertEvent
	maxBuf int

	// Callbacks
	OnBuffer func()          // an event was buffered
	OnFlush  func(count int) // buffered events were replayed
}

// NewBufferedPublisher wraps pub. maxBufferSize <= 0 defaults to 10000.
func NewBufferedPublisher(pub EventPublisher, cb *CircuitBreaker, channel string, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		pub:     pub,
		cb:      cb,
		channel: channel,
		buffer:  make([]model.AlertEvent, 0, 64),
		maxBuf:  maxBufferSize,
	}

	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bp.Flush(context.Background())
		}
	}
	return bp
}

// Publish sends ev through the breaker. An open breaker buffers the event
// and returns nil; a failed publish is returned to the caller.
func (bp *BufferedPublisher) Publish(ctx context.Context, ev model.AlertEvent) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishEvent(ctx, bp.channel, ev)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bp.bufferEvent(ev)
		return nil
	}
	return err
}

func (bp *BufferedPublisher) bufferEvent(ev model.AlertEvent) {
	bp.mu.Lock()
	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, ev)
	bp.mu.Unlock()

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// Flush replays every buffered event directly. Events that still fail are
// logged and dropped.
func (bp *BufferedPublisher) Flush(ctx context.Context) {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]model.AlertEvent, 0, 64)
	bp.mu.Unlock()

	flushed := 0
	for _, ev := range toFlush {
		if err := bp.pub.PublishEvent(ctx, bp.channel, ev); err != nil {
			slog.Warn("redis replay failed", "event_id", ev.ID, "error", err)
			continue
		}
		flushed++
	}

	slog.Info("redis flushed buffered events", "count", flushed, "channel", bp.channel)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered events.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
