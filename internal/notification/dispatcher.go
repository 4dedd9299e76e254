package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chartcore/internal/logger"
	"chartcore/internal/model"
)

type envelope struct {
	traceID string
	ev      model.AlertEvent
}

// Dispatcher delivers events to every sink from a single background loop.
// Enqueue never blocks: when the queue is full the event is dropped so a
// slow sink cannot stall evaluation.
type Dispatcher struct {
	sinks   []Sink
	queue   chan envelope
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}

	// OnDrop is called when an event is dropped because the queue is full.
	OnDrop func(ev model.AlertEvent)
	// OnError is called for every failed delivery.
	OnError func(sink string, ev model.AlertEvent, err error)
	// OnDelivered is called after an event reached every sink (failed or not).
	OnDelivered func(ev model.AlertEvent)
}

// NewDispatcher creates a Dispatcher with the given queue size and per-send
// timeout.
func NewDispatcher(queueSize int, sendTimeout time.Duration, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if sendTimeout <= 0 {
		sendTimeout = 15 * time.Second
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan envelope, queueSize),
		timeout: sendTimeout,
		done:    make(chan struct{}),
	}
}

// Sinks returns the names of the configured sinks.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name
	}
	return names
}

// Enqueue queues events in order. It returns the number accepted.
func (d *Dispatcher) Enqueue(ctx context.Context, events ...model.AlertEvent) int {
	tid := logger.TraceID(ctx)
	accepted := 0
	for _, ev := range events {
		select {
		case d.queue <- envelope{traceID: tid, ev: ev}:
			accepted++
		default:
			if d.OnDrop != nil {
				d.OnDrop(ev)
			} else {
				slog.Warn("dispatch queue full, dropping event", "event_id", ev.ID, "alert_id", ev.AlertID)
			}
		}
	}
	return accepted
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already queued with a fresh deadline. Blocks until done.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.closeOnce.Do(func() { close(d.done) })

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case env := <-d.queue:
			d.deliver(ctx, env)
		}
	}
}

// Done is closed when Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	for {
		select {
		case env := <-d.queue:
			d.deliver(ctx, env)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, env envelope) {
	ctx := parent
	if env.traceID != "" {
		ctx = logger.WithTraceID(ctx, env.traceID)
	}
	for _, s := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := s.Send(sendCtx, env.ev)
		cancel()
		if err == nil {
			continue
		}
		if d.OnError != nil {
			d.OnError(s.Name, env.ev, err)
		}
		slog.Error("alert delivery failed",
			append([]any{"sink", s.Name, "event_id", env.ev.ID, "error", err}, logger.LogWithTrace(ctx)...)...)
	}
	if d.OnDelivered != nil {
		d.OnDelivered(env.ev)
	}
}

// QueueStat reports queue occupancy for saturation metrics.
func (d *Dispatcher) QueueStat() (length, capacity int) {
	return len(d.queue), cap(d.queue)
}
