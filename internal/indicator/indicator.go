// Package indicator provides technical indicator calculations over numeric
// series and OHLCV candles.
//
// Two layers are exposed. Accumulators (SMA, EMA, SMMA, RSI, RollingStd,
// VWMA) consume one value at a time with O(1) updates and can preview the
// next value without mutating state. The series functions (SMA, EMA,
// Bollinger, VWAP, ...) run an accumulator over a whole slice and return an
// index-aligned Series in which warm-up entries are null.
package indicator

import (
	"fmt"

	"chartcore/internal/model"
)

// ErrInvalidParameter is returned for non-positive periods.
var ErrInvalidParameter = model.ErrInvalidParameter

// Series is an indicator output index-aligned with its input. An invalid
// entry means there is not enough history to compute a value at that index.
type Series []model.NullFloat

// Floats returns the series as nullable pointers, nil for warm-up entries.
func (s Series) Floats() []*float64 {
	out := make([]*float64, len(s))
	for i, v := range s {
		if v.Valid {
			f := v.Float
			out[i] = &f
		}
	}
	return out
}

// LeadingNulls counts warm-up entries before the first valid value.
func (s Series) LeadingNulls() int {
	for i, v := range s {
		if v.Valid {
			return i
		}
	}
	return len(s)
}

// Accumulator is the interface for streaming single-input indicators.
type Accumulator interface {
	// Name returns the indicator name (e.g., "SMA", "EMA").
	Name() string

	// Update feeds the next value and recalculates.
	Update(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if v were added next,
	// WITHOUT mutating internal state. Used for forming bars.
	Peek(v float64) float64
}

func checkPeriod(period int) error {
	if period <= 0 {
		return fmt.Errorf("%w: period must be positive, got %d", ErrInvalidParameter, period)
	}
	return nil
}

// run feeds values through acc and records Value() once Ready().
func run(acc Accumulator, values []float64) Series {
	out := make(Series, len(values))
	for i, v := range values {
		acc.Update(v)
		if acc.Ready() {
			out[i] = model.Some(acc.Value())
		}
	}
	return out
}
