package model

import (
	"encoding/json"
	"math"
	"testing"
)

func TestSome_NonFiniteIsNone(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if Some(v).Valid {
			t.Errorf("Some(%v) is valid", v)
		}
	}
	if v, ok := Some(1.5).Get(); !ok || v != 1.5 {
		t.Errorf("Some(1.5).Get() = %v, %v", v, ok)
	}
}

func TestNullFloat_JSON(t *testing.T) {
	tests := []struct {
		name string
		in   NullFloat
		want string
	}{
		{"value", Some(101.25), "101.25"},
		{"zero", Some(0), "0"},
		{"absent", None(), "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if string(raw) != tt.want {
				t.Errorf("marshal = %s, want %s", raw, tt.want)
			}
			var back NullFloat
			if err := json.Unmarshal(raw, &back); err != nil {
				t.Fatal(err)
			}
			if back != tt.in {
				t.Errorf("round trip = %+v, want %+v", back, tt.in)
			}
		})
	}
}

func TestNullFloat_InSlice(t *testing.T) {
	raw, err := json.Marshal([]NullFloat{None(), Some(2)})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "[null,2]" {
		t.Errorf("marshal = %s", raw)
	}
	var back []NullFloat
	if err := json.Unmarshal([]byte(`[null, 3.5, "x"]`), &back); err == nil {
		t.Error("string element accepted")
	}
}

func TestNullFloat_String(t *testing.T) {
	if s := None().String(); s != "null" {
		t.Errorf("None().String() = %q", s)
	}
	if s := Some(2.5).String(); s != "2.5" {
		t.Errorf("Some(2.5).String() = %q", s)
	}
}
