package indicator

import "math"

// RollingStd is the population standard deviation over a sliding window,
// kept as a running sum and a running sum of squares.
type RollingStd struct {
	win   window
	sumSq float64
}

// NewRollingStd creates a new RollingStd accumulator with the given period.
func NewRollingStd(period int) *RollingStd {
	return &RollingStd{win: newWindow(period)}
}

func (r *RollingStd) Name() string { return "STD" }

func (r *RollingStd) Update(v float64) {
	if old, ok := r.win.push(v); ok {
		r.sumSq -= old * old
	}
	r.sumSq += v * v
}

// Value is zero until the first full window.
func (r *RollingStd) Value() float64 {
	if !r.win.full() {
		return 0
	}
	return stdFrom(r.win.sum, r.sumSq, float64(len(r.win.buf)))
}

func (r *RollingStd) Ready() bool { return r.win.full() }

// Peek previews the deviation after v without mutating state.
func (r *RollingStd) Peek(v float64) float64 {
	if !r.win.full() {
		return stdFrom(r.win.sum+v, r.sumSq+v*v, float64(r.win.count+1))
	}
	old := r.win.oldest()
	return stdFrom(r.win.sum-old+v, r.sumSq-old*old+v*v, float64(len(r.win.buf)))
}

// Mean returns the current window mean, zero during warm-up.
func (r *RollingStd) Mean() float64 {
	if !r.win.full() {
		return 0
	}
	return r.win.sum / float64(len(r.win.buf))
}

func stdFrom(sum, sumSq, n float64) float64 {
	mean := sum / n
	variance := sumSq/n - mean*mean
	// Floating-point cancellation can leave a tiny negative variance
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}
