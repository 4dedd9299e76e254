package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// NullFloat is a float64 that may be absent. It is used for indicator
// warm-up entries and for pixel coordinates that cannot be mapped yet.
type NullFloat struct {
	Float float64
	Valid bool
}

// Some returns a valid NullFloat holding v. NaN and ±Inf are reported as
// absent so they never leak into a series.
func Some(v float64) NullFloat {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NullFloat{}
	}
	return NullFloat{Float: v, Valid: true}
}

// None returns an absent value.
func None() NullFloat { return NullFloat{} }

// Get returns the value and whether it is present.
func (n NullFloat) Get() (float64, bool) { return n.Float, n.Valid }

func (n NullFloat) String() string {
	if !n.Valid {
		return "null"
	}
	return strconv.FormatFloat(n.Float, 'f', -1, 64)
}

// MarshalJSON encodes an absent value as null.
func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Float)
}

// UnmarshalJSON accepts a number or null.
func (n *NullFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = NullFloat{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Some(v)
	return nil
}
