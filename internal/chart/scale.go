package chart

import (
	"time"
)

// LinearPriceScale maps [Min, Max] linearly onto the pixel band
// [Top, Bottom], with higher prices nearer Top. It stands in for the
// rendering surface when the engine runs headless.
type LinearPriceScale struct {
	Top, Bottom float64
	Min, Max    float64
}

func (s LinearPriceScale) valid() bool {
	return s.Max > s.Min && s.Bottom > s.Top
}

// PriceToY implements PriceToPixel.
func (s LinearPriceScale) PriceToY(price float64) (float64, bool) {
	if !s.valid() {
		return 0, false
	}
	return s.Top + (s.Max-price)/(s.Max-s.Min)*(s.Bottom-s.Top), true
}

// YToPrice implements PixelToPrice.
func (s LinearPriceScale) YToPrice(y float64) (float64, bool) {
	if !s.valid() {
		return 0, false
	}
	return s.Max - (y-s.Top)/(s.Bottom-s.Top)*(s.Max-s.Min), true
}

// LinearTimeScale places one bar every BarSpacing pixels, starting at X0
// for the bar at Origin.
type LinearTimeScale struct {
	Origin     time.Time
	Interval   time.Duration
	X0         float64
	BarSpacing float64
}

func (s LinearTimeScale) valid() bool {
	return s.Interval > 0 && s.BarSpacing > 0
}

// TimeToX implements TimeToPixel.
func (s LinearTimeScale) TimeToX(t time.Time) (float64, bool) {
	if !s.valid() {
		return 0, false
	}
	bars := float64(t.Sub(s.Origin)) / float64(s.Interval)
	return s.X0 + bars*s.BarSpacing, true
}

// XToTime implements PixelToTime.
func (s LinearTimeScale) XToTime(x float64) (time.Time, bool) {
	if !s.valid() {
		return time.Time{}, false
	}
	bars := (x - s.X0) / s.BarSpacing
	return s.Origin.Add(time.Duration(bars * float64(s.Interval))), true
}

// Attach installs both scales on m.
func Attach(m *Mapper, price LinearPriceScale, tm LinearTimeScale) {
	m.SetPriceMapping(price.PriceToY, price.YToPrice)
	m.SetTimeMapping(tm.TimeToX, tm.XToTime)
}
