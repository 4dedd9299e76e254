// Package chart translates between price/time space and pixel space and
// snaps raw pointer positions to the grid, to visible OHLC price levels and
// to visible bar columns.
//
// A Mapper is chart-scoped: every active chart owns one. The rendering
// surface injects the mapping functions and pushes a fresh Snapshot of what
// is on screen after every viewport change.
package chart

import (
	"math"
	"sort"
	"sync"
	"time"

	"chartcore/internal/model"
)

// PriceToPixel maps a price to a vertical pixel coordinate.
type PriceToPixel func(price float64) (y float64, ok bool)

// PixelToPrice maps a vertical pixel coordinate to a price.
type PixelToPrice func(y float64) (price float64, ok bool)

// TimeToPixel maps a bar time to a horizontal pixel coordinate.
type TimeToPixel func(t time.Time) (x float64, ok bool)

// PixelToTime maps a horizontal pixel coordinate to a time.
type PixelToTime func(x float64) (t time.Time, ok bool)

// Snapshot is the on-screen state pushed by the rendering surface.
type Snapshot struct {
	// PriceLevels holds every visible open/high/low/close, in insertion order.
	PriceLevels []float64
	// BarX holds the x coordinate of every visible bar.
	BarX []float64
}

// Mapper holds the injected mapping functions and the visible-level caches
// of one chart. Any mapping may be unset; every dependent call then reports
// ok=false or returns its input unchanged.
type Mapper struct {
	mu       sync.RWMutex
	priceToY PriceToPixel
	yToPrice PixelToPrice
	timeToX  TimeToPixel
	xToTime  PixelToTime

	levels []float64 // de-duplicated, insertion order
	barX   []float64 // ascending
}

// NewMapper creates a Mapper with no mappings and empty caches.
func NewMapper() *Mapper {
	return &Mapper{}
}

// SetPriceMapping installs (or, with nils, removes) the price↔y pair.
func (m *Mapper) SetPriceMapping(toY PriceToPixel, toPrice PixelToPrice) {
	m.mu.Lock()
	m.priceToY, m.yToPrice = toY, toPrice
	m.mu.Unlock()
}

// SetTimeMapping installs (or, with nils, removes) the time↔x pair.
func (m *Mapper) SetTimeMapping(toX TimeToPixel, toTime PixelToTime) {
	m.mu.Lock()
	m.timeToX, m.xToTime = toX, toTime
	m.mu.Unlock()
}

// Detach removes every mapping, as when the chart is unmounted.
func (m *Mapper) Detach() {
	m.mu.Lock()
	m.priceToY, m.yToPrice, m.timeToX, m.xToTime = nil, nil, nil, nil
	m.mu.Unlock()
}

// PriceToY maps price to a pixel y. ok is false when no chart is attached.
func (m *Mapper) PriceToY(price float64) (float64, bool) {
	m.mu.RLock()
	fn := m.priceToY
	m.mu.RUnlock()
	return callFloat(fn, price)
}

// YToPrice maps a pixel y to a price. ok is false when no chart is attached.
func (m *Mapper) YToPrice(y float64) (float64, bool) {
	m.mu.RLock()
	fn := m.yToPrice
	m.mu.RUnlock()
	if fn == nil {
		return 0, false
	}
	return finiteOK(fn(y))
}

// PriceToPixelY is PriceToY as a NullFloat.
func (m *Mapper) PriceToPixelY(price model.NullFloat) model.NullFloat {
	if !price.Valid {
		return model.None()
	}
	y, ok := m.PriceToY(price.Float)
	if !ok {
		return model.None()
	}
	return model.Some(y)
}

// TimeToX maps a time to a pixel x.
func (m *Mapper) TimeToX(t time.Time) (float64, bool) {
	m.mu.RLock()
	fn := m.timeToX
	m.mu.RUnlock()
	if fn == nil {
		return 0, false
	}
	return finiteOK(fn(t))
}

// XToTime maps a pixel x to a time.
func (m *Mapper) XToTime(x float64) (time.Time, bool) {
	m.mu.RLock()
	fn := m.xToTime
	m.mu.RUnlock()
	if fn == nil {
		return time.Time{}, false
	}
	return fn(x)
}

// ReplaceSnapshot swaps both caches for the given snapshot. The previous
// contents are discarded, never merged. Levels are de-duplicated keeping
// first occurrence; bar coordinates are sorted ascending.
func (m *Mapper) ReplaceSnapshot(s Snapshot) {
	levels := dedupe(s.PriceLevels)
	barX := make([]float64, 0, len(s.BarX))
	for _, x := range s.BarX {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			barX = append(barX, x)
		}
	}
	sort.Float64s(barX)

	m.mu.Lock()
	m.levels, m.barX = levels, barX
	m.mu.Unlock()
}

// PriceLevels returns a copy of the visible price level cache.
func (m *Mapper) PriceLevels() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]float64(nil), m.levels...)
}

// BarX returns a copy of the sorted visible bar coordinates.
func (m *Mapper) BarX() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]float64(nil), m.barX...)
}

// SnapshotFromCandles builds a Snapshot from the newest maxCandles candles
// using the current time mapping for bar coordinates. Bars whose time
// cannot be mapped are left out; maxCandles <= 0 means no cap.
func (m *Mapper) SnapshotFromCandles(candles []model.Candle, maxCandles int) Snapshot {
	recent := tail(candles, maxCandles)
	s := Snapshot{PriceLevels: LevelsFromCandles(recent, 0)}
	for _, c := range recent {
		if x, ok := m.TimeToX(c.Time); ok {
			s.BarX = append(s.BarX, x)
		}
	}
	return s
}

// LevelsFromCandles lists the open, high, low and close of the newest
// maxCandles candles, de-duplicated in insertion order. maxCandles <= 0
// means no cap.
func LevelsFromCandles(candles []model.Candle, maxCandles int) []float64 {
	recent := tail(candles, maxCandles)
	raw := make([]float64, 0, len(recent)*4)
	for _, c := range recent {
		raw = append(raw, c.Open, c.High, c.Low, c.Close)
	}
	return dedupe(raw)
}

func tail(candles []model.Candle, n int) []model.Candle {
	if n > 0 && len(candles) > n {
		return candles[len(candles)-n:]
	}
	return candles
}

func dedupe(values []float64) []float64 {
	seen := make(map[float64]struct{}, len(values))
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func callFloat(fn PriceToPixel, v float64) (float64, bool) {
	if fn == nil {
		return 0, false
	}
	return finiteOK(fn(v))
}

func finiteOK(v float64, ok bool) (float64, bool) {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
