package chart

import (
	"math"
	"sort"

	"chartcore/internal/model"
)

// SnapToGrid rounds both axes of p to the nearest multiple of step.
// Disabled grids and steps <= 1 return p unchanged.
func SnapToGrid(p model.Point, step float64, enabled bool) model.Point {
	if !enabled || !(step > 1) {
		return p
	}
	return model.Point{
		X: math.Round(p.X/step) * step,
		Y: math.Round(p.Y/step) * step,
	}
}

// SnapToPriceLevel moves y onto the closest visible price level, provided
// it lies within tolerancePx. Levels are scanned in insertion order and an
// exact tie keeps the level found first. Without a price mapping y is
// returned unchanged.
func (m *Mapper) SnapToPriceLevel(y, tolerancePx float64) float64 {
	m.mu.RLock()
	toY := m.priceToY
	levels := m.levels
	m.mu.RUnlock()
	if toY == nil {
		return y
	}

	best, bestDist, found := y, math.Inf(1), false
	for _, level := range levels {
		ly, ok := finiteOK(toY(level))
		if !ok {
			continue
		}
		if d := math.Abs(ly - y); d < bestDist {
			best, bestDist, found = ly, d, true
		}
	}
	if !found || bestDist > tolerancePx {
		return y
	}
	return best
}

// SnapToBarX moves x onto the closer of its two neighbouring visible bars,
// provided it lies within tolerancePx. Only the bars either side of the
// binary-search insertion point are examined; on an exact tie the left bar
// wins.
func (m *Mapper) SnapToBarX(x, tolerancePx float64) float64 {
	m.mu.RLock()
	bars := m.barX
	m.mu.RUnlock()
	if len(bars) == 0 || math.IsNaN(x) {
		return x
	}

	i := sort.SearchFloat64s(bars, x)
	best, bestDist := x, math.Inf(1)
	if i > 0 {
		best, bestDist = bars[i-1], math.Abs(x-bars[i-1])
	}
	if i < len(bars) {
		if d := math.Abs(bars[i] - x); d < bestDist {
			best, bestDist = bars[i], d
		}
	}
	if bestDist > tolerancePx {
		return x
	}
	return best
}

// SnapOptions configures SnapPoint. A zero tolerance disables that magnet.
type SnapOptions struct {
	Grid           bool
	GridStep       float64
	BarTolerance   float64
	PriceTolerance float64
}

// SnapPoint applies the grid first, then the bar magnet on x and the price
// magnet on y.
func (m *Mapper) SnapPoint(p model.Point, opts SnapOptions) model.Point {
	p = SnapToGrid(p, opts.GridStep, opts.Grid)
	if opts.BarTolerance > 0 {
		p.X = m.SnapToBarX(p.X, opts.BarTolerance)
	}
	if opts.PriceTolerance > 0 {
		p.Y = m.SnapToPriceLevel(p.Y, opts.PriceTolerance)
	}
	return p
}
