// Package ringbuf provides a bounded window of the most recent candles.
// Pushing onto a full window overwrites the oldest candle, so a chart can
// rebuild its visible-level snapshot from the last N bars at O(N) cost no
// matter how long the session runs.
package ringbuf

import (
	"sync"

	"chartcore/internal/model"
)

// Window holds the newest candles in time order. Capacity is rounded up to
// a power of two for bitwise modulo. Safe for concurrent use.
type Window struct {
	mu   sync.RWMutex
	buf  []model.Candle
	mask uint64
	head uint64 // total candles ever appended

	overwritten uint64
	stale       uint64
}

// New creates a window. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New(capacity int) *Window {
	n := nextPow2(capacity)
	if n < 2 {
		n = 2
	}
	return &Window{
		buf:  make([]model.Candle, n),
		mask: uint64(n - 1),
	}
}

// Push appends c. A candle with the same time as the newest one replaces
// it (a forming bar update); one older than the newest is rejected and
// Push returns false.
func (w *Window) Push(c model.Candle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.head > 0 {
		last := &w.buf[(w.head-1)&w.mask]
		switch {
		case c.Time.Equal(last.Time):
			*last = c
			return true
		case c.Time.Before(last.Time):
			w.stale++
			return false
		}
	}

	if w.head >= uint64(len(w.buf)) {
		w.overwritten++
	}
	w.buf[w.head&w.mask] = c
	w.head++
	return true
}

// Last returns up to n of the newest candles, oldest first. n <= 0 returns
// everything held.
func (w *Window) Last(n int) []model.Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()

	held := w.lenLocked()
	if n <= 0 || n > held {
		n = held
	}
	out := make([]model.Candle, n)
	start := w.head - uint64(n)
	for i := range out {
		out[i] = w.buf[(start+uint64(i))&w.mask]
	}
	return out
}

// Newest returns the most recent candle.
func (w *Window) Newest() (model.Candle, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.head == 0 {
		return model.Candle{}, false
	}
	return w.buf[(w.head-1)&w.mask], true
}

// Len returns the number of candles held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lenLocked()
}

func (w *Window) lenLocked() int {
	if w.head < uint64(len(w.buf)) {
		return int(w.head)
	}
	return len(w.buf)
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return len(w.buf)
}

// Overwritten returns how many candles were evicted by newer ones.
func (w *Window) Overwritten() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.overwritten
}

// Stale returns how many out-of-order candles were rejected.
func (w *Window) Stale() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stale
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
