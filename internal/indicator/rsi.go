package indicator

// RSI is the relative strength index over Wilder-smoothed gains and
// losses. It needs period+1 inputs (period deltas) before it is ready.
type RSI struct {
	prev    float64
	started bool
	gain    smoother
	loss    smoother
}

// NewRSI creates a new RSI accumulator with the given period (typically 14).
func NewRSI(period int) *RSI {
	alpha := 1 / float64(period)
	return &RSI{
		gain: smoother{period: period, alpha: alpha},
		loss: smoother{period: period, alpha: alpha},
	}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(v float64) {
	if !r.started {
		r.prev, r.started = v, true
		return
	}
	g, l := split(v - r.prev)
	r.prev = v
	r.gain.update(g)
	r.loss.update(l)
}

// Value is zero until Ready.
func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	return rsiFrom(r.gain.value, r.loss.value)
}

func (r *RSI) Ready() bool { return r.gain.ready() }

// Peek previews the RSI after v. Before Ready it returns Value.
func (r *RSI) Peek(v float64) float64 {
	if !r.Ready() {
		return r.Value()
	}
	g, l := split(v - r.prev)
	return rsiFrom(r.gain.peek(g), r.loss.peek(l))
}

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	r.prev, r.started = 0, false
	r.gain.reset()
	r.loss.reset()
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// rsiFrom maps average gain and loss to 0..100. No losses reads as 100.
func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}
