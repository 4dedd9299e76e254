package indicator

// window is a fixed-size sliding buffer with a running sum.
type window struct {
	buf   []float64
	next  int
	count int
	sum   float64
}

func newWindow(size int) window {
	return window{buf: make([]float64, size)}
}

// push appends v and returns the value it evicted, if the window was full.
func (w *window) push(v float64) (evicted float64, ok bool) {
	if w.full() {
		evicted, ok = w.buf[w.next], true
		w.sum -= evicted
	}
	w.buf[w.next] = v
	w.sum += v
	w.next = (w.next + 1) % len(w.buf)
	w.count++
	return evicted, ok
}

func (w *window) full() bool { return w.count >= len(w.buf) }

// oldest is the value the next push evicts. Only meaningful when full.
func (w *window) oldest() float64 { return w.buf[w.next] }

func (w *window) reset() {
	clear(w.buf)
	w.next, w.count, w.sum = 0, 0, 0
}

// SMA is the arithmetic mean of the last period inputs.
type SMA struct {
	win window
}

// NewSMA creates a new SMA accumulator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{win: newWindow(period)}
}

func (s *SMA) Name() string { return "SMA" }

func (s *SMA) Update(v float64) { s.win.push(v) }

// Value is zero until the first full window.
func (s *SMA) Value() float64 {
	if !s.win.full() {
		return 0
	}
	return s.win.sum / float64(len(s.win.buf))
}

func (s *SMA) Ready() bool { return s.win.full() }

// Peek previews the mean after v. During warm-up it averages what has been
// seen plus v.
func (s *SMA) Peek(v float64) float64 {
	if !s.win.full() {
		return (s.win.sum + v) / float64(s.win.count+1)
	}
	return (s.win.sum - s.win.oldest() + v) / float64(len(s.win.buf))
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() { s.win.reset() }
