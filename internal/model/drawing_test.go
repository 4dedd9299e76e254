package model

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestNewDrawing_PointCounts(t *testing.T) {
	p := func(n int) []Point {
		out := make([]Point, n)
		for i := range out {
			out[i] = Point{X: float64(i), Y: float64(10 * i)}
		}
		return out
	}

	tests := []struct {
		name    string
		kind    DrawingKind
		points  int
		wantErr bool
	}{
		{"hline one", KindHLine, 1, false},
		{"hline two", KindHLine, 2, true},
		{"hline none", KindHLine, 0, true},
		{"line two", KindLine, 2, false},
		{"line three", KindLine, 3, true},
		{"ray one", KindRay, 1, true},
		{"arrow two", KindArrow, 2, false},
		{"rect one", KindRect, 1, true},
		{"rect two", KindRect, 2, false},
		{"fib two", KindFib, 2, false},
		{"fib three", KindFib, 3, true},
		{"region one", KindRegion, 1, true},
		{"region two", KindRegion, 2, false},
		{"region five", KindRegion, 5, false},
		{"unknown kind", DrawingKind("circle"), 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDrawing(DrawingSpec{ID: "d1", Kind: tt.kind, Points: p(tt.points)})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", d.Spec())
				}
				if !errors.Is(err, ErrInvalidGeometry) || !errors.Is(err, ErrInvalidParameter) {
					t.Errorf("error %v should match ErrInvalidGeometry and ErrInvalidParameter", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.NumPoints() != tt.points || d.Kind() != tt.kind {
				t.Errorf("got kind=%s points=%d", d.Kind(), d.NumPoints())
			}
		})
	}
}

func TestNewDrawing_RejectsEmptyIDAndNonFinite(t *testing.T) {
	if _, err := NewHLine("", 10); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("empty id: got %v", err)
	}
	if _, err := NewHLine("h", math.NaN()); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("NaN y: got %v", err)
	}
	if _, err := NewRect("r", Point{X: math.Inf(1)}, Point{X: 1, Y: 1}); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Inf x: got %v", err)
	}
	if _, err := NewFib("f", Point{}, Point{Y: 10}, 0.5, math.Inf(-1)); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Inf level: got %v", err)
	}
}

func TestErrInvalidGeometry_IsInvalidParameter(t *testing.T) {
	if !errors.Is(ErrInvalidGeometry, ErrInvalidParameter) {
		t.Fatal("ErrInvalidGeometry must match ErrInvalidParameter")
	}
}

func TestNewLine_RejectsNonLineKind(t *testing.T) {
	for _, k := range []DrawingKind{KindHLine, KindRect, KindFib, KindRegion} {
		if _, err := NewLine("l", k, Point{}, Point{X: 1, Y: 1}); !errors.Is(err, ErrInvalidGeometry) {
			t.Errorf("NewLine(%s): got %v", k, err)
		}
	}
	for _, k := range []DrawingKind{KindLine, KindRay, KindArrow} {
		if _, err := NewLine("l", k, Point{}, Point{X: 1, Y: 1}); err != nil {
			t.Errorf("NewLine(%s): %v", k, err)
		}
	}
}

func TestNewFib_Levels(t *testing.T) {
	d, err := NewFib("f", Point{Y: 100}, Point{Y: 200})
	if err != nil {
		t.Fatal(err)
	}
	got := d.Levels()
	if len(got) != len(DefaultFibLevels) {
		t.Fatalf("levels = %v, want defaults", got)
	}
	for i := range got {
		if got[i] != DefaultFibLevels[i] {
			t.Errorf("level %d = %v, want %v", i, got[i], DefaultFibLevels[i])
		}
	}

	// returned slices are copies
	got[0] = 42
	if d.Levels()[0] == 42 {
		t.Error("Levels exposes internal state")
	}

	custom, _ := NewFib("f2", Point{}, Point{Y: 1}, 0.5)
	if l := custom.Levels(); len(l) != 1 || l[0] != 0.5 {
		t.Errorf("custom levels = %v", l)
	}

	line, _ := NewLine("l", KindLine, Point{}, Point{Y: 1})
	if line.Levels() != nil {
		t.Errorf("non-fib levels = %v", line.Levels())
	}
}

func TestDrawing_VerticalExtent(t *testing.T) {
	d, err := NewRegion("r", Point{Y: 30}, Point{Y: 10}, Point{Y: 50})
	if err != nil {
		t.Fatal(err)
	}
	top, bottom, ok := d.VerticalExtent()
	if !ok || top != 10 || bottom != 50 {
		t.Errorf("extent = %v..%v ok=%v", top, bottom, ok)
	}
	if _, ok := d.Anchor(3); ok {
		t.Error("Anchor out of range returned ok")
	}
}

func TestDrawing_JSONValidates(t *testing.T) {
	d, _ := NewRect("r1", Point{X: 1, Y: 2}, Point{X: 3, Y: 4})
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	var back Drawing
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.ID() != "r1" || back.Kind() != KindRect || back.NumPoints() != 2 {
		t.Errorf("decoded %+v", back.Spec())
	}

	bad := []byte(`{"id":"r2","kind":"rect","points":[{"x":1,"y":2}]}`)
	if err := json.Unmarshal(bad, &back); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("one-point rect decoded: err=%v", err)
	}
}
