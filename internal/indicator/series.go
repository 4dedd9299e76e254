package indicator

import (
	"math"

	"chartcore/internal/model"
)

// Bands is a three-line overlay whose lines share warm-up nulls.
type Bands struct {
	Center Series `json:"center"`
	Upper  Series `json:"upper"`
	Lower  Series `json:"lower"`
}

// SMASeries returns the simple moving average of values. The first period-1
// entries are null.
func SMASeries(values []float64, period int) (Series, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	return run(NewSMA(period), values), nil
}

// EMASeries returns the exponential moving average of values, seeded with the
// simple average of the first full window.
func EMASeries(values []float64, period int) (Series, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	return run(NewEMA(period), values), nil
}

// SMMASeries returns Wilder's smoothed moving average of values.
func SMMASeries(values []float64, period int) (Series, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	return run(NewSMMA(period), values), nil
}

// RSISeries returns the relative strength index of values. The first period
// entries are null.
func RSISeries(values []float64, period int) (Series, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	return run(NewRSI(period), values), nil
}

// RollingStdSeries returns the population standard deviation over a sliding window.
func RollingStdSeries(values []float64, period int) (Series, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	return run(NewRollingStd(period), values), nil
}

// Bollinger returns basis = SMA and upper/lower = basis ± multiplier*std.
func Bollinger(values []float64, period int, multiplier float64) (Bands, error) {
	if err := checkPeriod(period); err != nil {
		return Bands{}, err
	}
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return Bands{}, ErrInvalidParameter
	}

	sma := NewSMA(period)
	std := NewRollingStd(period)
	b := Bands{
		Center: make(Series, len(values)),
		Upper:  make(Series, len(values)),
		Lower:  make(Series, len(values)),
	}
	for i, v := range values {
		sma.Update(v)
		std.Update(v)
		if !sma.Ready() {
			continue
		}
		basis, dev := sma.Value(), multiplier*std.Value()
		up, lo, mid := model.Some(basis+dev), model.Some(basis-dev), model.Some(basis)
		if !up.Valid || !lo.Valid || !mid.Valid {
			continue
		}
		b.Center[i], b.Upper[i], b.Lower[i] = mid, up, lo
	}
	return b, nil
}

// StdDevChannels is the standard deviation channel overlay. It uses the same
// construction as Bollinger and is kept separate because callers treat it as
// its own overlay.
func StdDevChannels(values []float64, period int, k float64) (Bands, error) {
	return Bollinger(values, period, k)
}

// VWMASeries returns the volume-weighted moving average of candle closes. An
// index whose window has zero total volume is null.
func VWMASeries(candles []model.Candle, period int) (Series, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	acc := NewVWMA(period)
	out := make(Series, len(candles))
	for i, c := range candles {
		acc.Update(c)
		if v, ok := acc.Value(); ok {
			out[i] = model.Some(v)
		}
	}
	return out, nil
}

// VWAP returns the cumulative volume-weighted average typical price starting
// at anchor. Entries before the anchor are null; an anchor outside the
// series falls back to 0. Indices where cumulative volume is still zero are
// null.
func VWAP(candles []model.Candle, anchor int) Series {
	out := make(Series, len(candles))
	if anchor < 0 || anchor >= len(candles) {
		anchor = 0
	}
	var sumPV, sumV float64
	for i := anchor; i < len(candles); i++ {
		c := candles[i]
		sumPV += c.TypicalPrice() * c.Volume
		sumV += c.Volume
		if sumV != 0 {
			out[i] = model.Some(sumPV / sumV)
		}
	}
	return out
}
