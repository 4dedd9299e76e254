package indicator

import "chartcore/internal/model"

// VWMA is the volume-weighted moving average of closes: the windowed sum of
// close*volume over the windowed volume. A window whose volumes are all
// zero has no value.
type VWMA struct {
	pv      window
	vol     window
	nonZero int // volumes != 0 inside the window
}

// NewVWMA creates a new VWMA accumulator with the given period.
func NewVWMA(period int) *VWMA {
	return &VWMA{pv: newWindow(period), vol: newWindow(period)}
}

func (w *VWMA) Name() string { return "VWMA" }

// Update feeds the next candle.
func (w *VWMA) Update(c model.Candle) {
	w.pv.push(c.Close * c.Volume)
	if old, ok := w.vol.push(c.Volume); ok && old != 0 {
		w.nonZero--
	}
	if c.Volume != 0 {
		w.nonZero++
	}
}

// Value returns the current average; ok is false during warm-up or when
// the windowed volume is zero.
func (w *VWMA) Value() (float64, bool) {
	if !w.vol.full() || w.nonZero == 0 || w.vol.sum == 0 {
		return 0, false
	}
	return w.pv.sum / w.vol.sum, true
}
