package chartd

import (
	"math"
	"sync"
	"time"

	"chartcore/internal/chart"
	"chartcore/internal/model"
	"chartcore/internal/ringbuf"
)

// fitPadding is the fraction of the visible range added above and below
// when the price axis is fitted to history.
const fitPadding = 0.05

// Geometry is the headless chart layout.
type Geometry struct {
	PriceTop, PriceBottom float64
	// PriceMin/PriceMax pin the price axis; when PriceMax <= PriceMin the
	// axis is fitted to the visible candles.
	PriceMin, PriceMax float64
	PlotWidth          float64
	BarSpacing         float64
	BarInterval        time.Duration
	VisibleCandles     int
}

// headlessChart owns the candle window and keeps the Mapper's scales and
// visible-level snapshot in step with it.
type headlessChart struct {
	geo    Geometry
	mapper *chart.Mapper
	window *ringbuf.Window

	mu       sync.Mutex
	attached bool
}

func newHeadlessChart(geo Geometry) *headlessChart {
	return &headlessChart{
		geo:    geo,
		mapper: chart.NewMapper(),
		window: ringbuf.New(geo.VisibleCandles),
	}
}

// push adds candles to the window and rebuilds the chart. It reports
// whether any candle was accepted.
func (hc *headlessChart) push(candles ...model.Candle) bool {
	accepted := false
	for _, c := range candles {
		if hc.window.Push(c) {
			accepted = true
		}
	}
	if accepted {
		hc.rebuild()
	}
	return accepted
}

// rebuild attaches scales derived from the visible window and replaces the
// snapshot. A pinned price axis maps prices even before any candle has
// arrived; a fitted one needs history. Without candles the time mapping is
// removed and the snapshot emptied.
func (hc *headlessChart) rebuild() {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	candles := hc.window.Last(hc.geo.VisibleCandles)
	price, ok := hc.priceScale(candles)
	if !ok {
		hc.mapper.Detach()
		hc.mapper.ReplaceSnapshot(chart.Snapshot{})
		hc.attached = false
		return
	}
	hc.mapper.SetPriceMapping(price.PriceToY, price.YToPrice)
	hc.attached = true

	if len(candles) == 0 {
		hc.mapper.SetTimeMapping(nil, nil)
		hc.mapper.ReplaceSnapshot(chart.Snapshot{})
		return
	}

	// The newest bar sits at the right edge of the plot.
	n := float64(len(candles) - 1)
	tm := chart.LinearTimeScale{
		Origin:     candles[0].Time,
		Interval:   hc.geo.BarInterval,
		X0:         hc.geo.PlotWidth - n*hc.geo.BarSpacing,
		BarSpacing: hc.geo.BarSpacing,
	}
	hc.mapper.SetTimeMapping(tm.TimeToX, tm.XToTime)
	hc.mapper.ReplaceSnapshot(hc.mapper.SnapshotFromCandles(candles, hc.geo.VisibleCandles))
}

func (hc *headlessChart) priceScale(candles []model.Candle) (chart.LinearPriceScale, bool) {
	s := chart.LinearPriceScale{Top: hc.geo.PriceTop, Bottom: hc.geo.PriceBottom}
	if hc.geo.PriceMax > hc.geo.PriceMin {
		s.Min, s.Max = hc.geo.PriceMin, hc.geo.PriceMax
		return s, true
	}
	lo, hi, ok := priceRange(candles)
	if !ok {
		return s, false
	}
	pad := (hi - lo) * fitPadding
	if pad == 0 {
		pad = math.Max(math.Abs(hi)*fitPadding, 1)
	}
	s.Min, s.Max = lo-pad, hi+pad
	return s, true
}

func (hc *headlessChart) isAttached() bool {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.attached
}

// priceRange returns the lowest low and highest high.
func priceRange(candles []model.Candle) (lo, hi float64, ok bool) {
	if len(candles) == 0 {
		return 0, 0, false
	}
	lo, hi = candles[0].Low, candles[0].High
	for _, c := range candles[1:] {
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
	}
	return lo, hi, true
}
