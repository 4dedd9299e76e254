package indicator

// smoother is the recursive average shared by EMA and SMMA. It is seeded
// with the plain mean of the first period inputs; every later input moves
// the value by alpha of the distance to it.
type smoother struct {
	period int
	alpha  float64
	seen   int
	seed   float64
	value  float64
}

func (s *smoother) update(v float64) {
	s.seen++
	switch {
	case s.seen < s.period:
		s.seed += v
	case s.seen == s.period:
		s.seed += v
		s.value = s.seed / float64(s.period)
	default:
		s.value += s.alpha * (v - s.value)
	}
}

func (s *smoother) ready() bool { return s.seen >= s.period }

func (s *smoother) peek(v float64) float64 {
	if !s.ready() {
		return (s.seed + v) / float64(s.seen+1)
	}
	return s.value + s.alpha*(v-s.value)
}

func (s *smoother) reset() {
	s.seen, s.seed, s.value = 0, 0, 0
}

// EMA is the exponential moving average with k = 2/(period+1). The first
// value is the mean of the first full window, never a raw input.
type EMA struct {
	sm smoother
}

// NewEMA creates a new EMA accumulator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{sm: smoother{period: period, alpha: 2 / float64(period+1)}}
}

func (e *EMA) Name() string           { return "EMA" }
func (e *EMA) Update(v float64)       { e.sm.update(v) }
func (e *EMA) Value() float64         { return e.sm.value }
func (e *EMA) Ready() bool            { return e.sm.ready() }
func (e *EMA) Peek(v float64) float64 { return e.sm.peek(v) }
func (e *EMA) Reset()                 { e.sm.reset() }
