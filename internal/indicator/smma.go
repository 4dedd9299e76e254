package indicator

// SMMA is Wilder's smoothed moving average: an EMA with k = 1/period.
type SMMA struct {
	sm smoother
}

// NewSMMA creates a new SMMA accumulator with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{sm: smoother{period: period, alpha: 1 / float64(period)}}
}

func (s *SMMA) Name() string           { return "SMMA" }
func (s *SMMA) Update(v float64)       { s.sm.update(v) }
func (s *SMMA) Value() float64         { return s.sm.value }
func (s *SMMA) Ready() bool            { return s.sm.ready() }
func (s *SMMA) Peek(v float64) float64 { return s.sm.peek(v) }
func (s *SMMA) Reset()                 { s.sm.reset() }
