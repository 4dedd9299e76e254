// Package quote keeps the latest traded price of one symbol, fed either by
// polling a Redis key or by a streaming WebSocket trade feed. Readers get a
// cheap, non-blocking LastPrice accessor.
package quote

import (
	"math"
	"sync/atomic"
	"time"
)

// Source is anything that can report the last price without blocking.
type Source interface {
	LastPrice() (float64, bool)
}

// Latest holds the most recent price. The zero value has no quote.
type Latest struct {
	bits  atomic.Uint64
	valid atomic.Bool
	at    atomic.Int64 // unix nanos of the last update
}

// Set records a new price. Non-finite prices are ignored.
func (l *Latest) Set(price float64, at time.Time) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	l.bits.Store(math.Float64bits(price))
	l.at.Store(at.UnixNano())
	l.valid.Store(true)
}

// LastPrice implements Source.
func (l *Latest) LastPrice() (float64, bool) {
	if !l.valid.Load() {
		return 0, false
	}
	return math.Float64frombits(l.bits.Load()), true
}

// UpdatedAt returns the time of the last Set, or the zero time.
func (l *Latest) UpdatedAt() time.Time {
	if !l.valid.Load() {
		return time.Time{}
	}
	return time.Unix(0, l.at.Load())
}

// None never has a quote.
type None struct{}

func (None) LastPrice() (float64, bool) { return 0, false }
