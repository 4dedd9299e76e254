// Package sampler polls the last traded price on a fixed interval, maps it
// to pixel space and hands consecutive pixel samples to the alert
// evaluator.
package sampler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chartcore/internal/logger"
	"chartcore/internal/model"
)

// MinInterval is the floor applied to every requested polling interval.
const MinInterval = 200 * time.Millisecond

// PriceFunc returns the last price; ok is false when there is no quote yet.
type PriceFunc func() (price float64, ok bool)

// PixelMapper maps a price to a pixel y, propagating nulls.
type PixelMapper interface {
	PriceToPixelY(price model.NullFloat) model.NullFloat
}

// Tick is one evaluable sample pair.
type Tick struct {
	PrevY float64
	CurrY float64
	Price float64
	Now   time.Time
}

// Config wires a Driver.
type Config struct {
	// Symbol prefixes the per-tick trace id.
	Symbol string
	// Interval between ticks; raised to MinInterval when smaller.
	Interval  time.Duration
	LastPrice PriceFunc
	Mapper    PixelMapper
	// OnTick receives every tick where both samples mapped.
	OnTick func(ctx context.Context, t Tick)
	// OnSample, if set, observes every poll (including unmapped ones).
	OnSample func(price, y model.NullFloat)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Driver is a fixed-interval poller. Its only sample state is the pixel y
// of the previous tick.
type Driver struct {
	cfg     Config
	prevY   model.NullFloat
	started atomic.Bool
	done    chan struct{}
}

// New validates cfg and returns a Driver.
func New(cfg Config) (*Driver, error) {
	if cfg.LastPrice == nil || cfg.Mapper == nil || cfg.OnTick == nil {
		return nil, errors.New("sampler: LastPrice, Mapper and OnTick are required")
	}
	if cfg.Interval < MinInterval {
		cfg.Interval = MinInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Driver{cfg: cfg, done: make(chan struct{})}, nil
}

// Interval returns the effective polling interval.
func (d *Driver) Interval() time.Duration { return d.cfg.Interval }

// Step runs one tick synchronously. The pixel sample always becomes the
// new previous sample, including when it is null.
func (d *Driver) Step(ctx context.Context) {
	now := d.cfg.Now()

	price := model.None()
	if p, ok := d.cfg.LastPrice(); ok {
		price = model.Some(p)
	}
	curr := d.cfg.Mapper.PriceToPixelY(price)
	if d.cfg.OnSample != nil {
		d.cfg.OnSample(price, curr)
	}

	prev := d.prevY
	d.prevY = curr
	if !prev.Valid || !curr.Valid {
		return
	}

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(d.cfg.Symbol, now))
	d.cfg.OnTick(ctx, Tick{PrevY: prev.Float, CurrY: curr.Float, Price: price.Float, Now: now})
}

// Start ticks once immediately and then every interval until the returned
// stop function is called or ctx is cancelled. stop never blocks, so it is
// safe from inside OnTick or OnSample, and may be called any number of
// times; use Done to wait for the loop to exit. A Driver can be started
// only once; later calls return a no-op stop.
func (d *Driver) Start(ctx context.Context) (stop func()) {
	if !d.started.CompareAndSwap(false, true) {
		slog.Warn("sampler already started", "symbol", d.cfg.Symbol)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(d.done)
		d.Step(ctx)

		ticker := time.NewTicker(d.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				d.Step(ctx)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }
}

// Done is closed once the loop started by Start has exited. It never
// closes for a Driver that was not started.
func (d *Driver) Done() <-chan struct{} { return d.done }
