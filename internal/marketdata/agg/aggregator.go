// Package agg builds OHLC bars from sampled last prices. It is used when no
// upstream candle feed exists and the chart has to grow its own history.
package agg

import (
	"sync"
	"time"

	"chartcore/internal/model"
)

// Aggregator folds prices into fixed-interval buckets. Bucket start times
// are aligned to the interval (UTC).
type Aggregator struct {
	interval time.Duration

	mu  sync.Mutex
	cur model.Candle
	has bool

	// OnDroppedSample is called when a price arrives for a bucket older than
	// the one being built.
	OnDroppedSample func(t time.Time)
}

// New creates an Aggregator for the given bar interval.
func New(interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Aggregator{interval: interval}
}

// Interval returns the bar interval.
func (a *Aggregator) Interval() time.Duration { return a.interval }

// Update folds one price observed at t into the current bar. It returns the
// forming bar after the update and, when t opened a new bucket, the bar
// that just closed. ok is false when the sample was dropped.
func (a *Aggregator) Update(price, qty float64, t time.Time) (forming model.Candle, closed *model.Candle, ok bool) {
	bucket := t.UTC().Truncate(a.interval)

	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case !a.has:
		a.open(bucket, price, qty)
	case bucket.Before(a.cur.Time):
		if a.OnDroppedSample != nil {
			a.OnDroppedSample(t)
		}
		return model.Candle{}, nil, false
	case bucket.After(a.cur.Time):
		prev := a.cur
		closed = &prev
		a.open(bucket, price, qty)
	default:
		if price > a.cur.High {
			a.cur.High = price
		}
		if price < a.cur.Low {
			a.cur.Low = price
		}
		a.cur.Close = price
		a.cur.Volume += qty
	}
	return a.cur, closed, true
}

// Peek returns the forming bar, if any.
func (a *Aggregator) Peek() (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur, a.has
}

// Flush closes and returns the forming bar.
func (a *Aggregator) Flush() (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.has {
		return model.Candle{}, false
	}
	c := a.cur
	a.cur, a.has = model.Candle{}, false
	return c, true
}

// Seed continues the given bar, typically the newest stored candle, so a
// restart inside its bucket does not lose its open/high/low.
func (a *Aggregator) Seed(c model.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c.Time = c.Time.UTC().Truncate(a.interval)
	a.cur, a.has = c, true
}

func (a *Aggregator) open(bucket time.Time, price, qty float64) {
	a.cur = model.Candle{Time: bucket, Open: price, High: price, Low: price, Close: price, Volume: qty}
	a.has = true
}
