package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// Point is an anchor in pixel space.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// DrawingKind tags the shape of a Drawing.
type DrawingKind string

const (
	KindHLine  DrawingKind = "hline"
	KindLine   DrawingKind = "line"
	KindRay    DrawingKind = "ray"
	KindArrow  DrawingKind = "arrow"
	KindRect   DrawingKind = "rect"
	KindRegion DrawingKind = "region"
	KindFib    DrawingKind = "fib"
)

// DefaultFibLevels are used when a fib drawing is created without levels.
var DefaultFibLevels = []float64{0, 0.236, 0.382, 0.5, 0.618, 0.786, 1}

// IsTwoPointLine reports whether k is a straight segment defined by two anchors.
func (k DrawingKind) IsTwoPointLine() bool {
	return k == KindLine || k == KindRay || k == KindArrow
}

// Drawing is a user-placed geometric primitive. Values are built through the
// constructors so that every Drawing satisfies the point count of its kind.
// Style metadata is owned by the rendering layer and not modelled here.
type Drawing struct {
	id     string
	kind   DrawingKind
	points []Point
	levels []float64
}

// DrawingSpec is the plain, unchecked form of a Drawing used for decoding.
type DrawingSpec struct {
	ID     string      `json:"id" yaml:"id"`
	Kind   DrawingKind `json:"kind" yaml:"kind"`
	Points []Point     `json:"points" yaml:"points"`
	Levels []float64   `json:"levels,omitempty" yaml:"levels,omitempty"`
}

// NewDrawing validates spec against the rules of its kind.
func NewDrawing(spec DrawingSpec) (Drawing, error) {
	if spec.ID == "" {
		return Drawing{}, fmt.Errorf("%w: empty drawing id", ErrInvalidGeometry)
	}
	lo, hi := 0, 0
	switch spec.Kind {
	case KindHLine:
		lo, hi = 1, 1
	case KindLine, KindRay, KindArrow, KindRect, KindFib:
		lo, hi = 2, 2
	case KindRegion:
		lo, hi = 2, math.MaxInt
	default:
		return Drawing{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidGeometry, spec.Kind)
	}
	if n := len(spec.Points); n < lo || n > hi {
		return Drawing{}, fmt.Errorf("%w: %s drawing %s has %d points", ErrInvalidGeometry, spec.Kind, spec.ID, n)
	}
	for _, p := range spec.Points {
		if !finite(p.X) || !finite(p.Y) {
			return Drawing{}, fmt.Errorf("%w: non-finite anchor in %s", ErrInvalidGeometry, spec.ID)
		}
	}

	d := Drawing{
		id:     spec.ID,
		kind:   spec.Kind,
		points: append([]Point(nil), spec.Points...),
	}
	if spec.Kind == KindFib {
		levels := spec.Levels
		if len(levels) == 0 {
			levels = DefaultFibLevels
		}
		for _, l := range levels {
			if !finite(l) {
				return Drawing{}, fmt.Errorf("%w: non-finite fib level in %s", ErrInvalidGeometry, spec.ID)
			}
		}
		d.levels = append([]float64(nil), levels...)
	}
	return d, nil
}

// NewHLine creates a horizontal level at pixel y.
func NewHLine(id string, y float64) (Drawing, error) {
	return NewDrawing(DrawingSpec{ID: id, Kind: KindHLine, Points: []Point{{Y: y}}})
}

// NewLine creates a two-point line, ray or arrow.
func NewLine(id string, kind DrawingKind, a, b Point) (Drawing, error) {
	if !kind.IsTwoPointLine() {
		return Drawing{}, fmt.Errorf("%w: %q is not a line kind", ErrInvalidGeometry, kind)
	}
	return NewDrawing(DrawingSpec{ID: id, Kind: kind, Points: []Point{a, b}})
}

// NewRect creates a rectangle from two opposite corners.
func NewRect(id string, a, b Point) (Drawing, error) {
	return NewDrawing(DrawingSpec{ID: id, Kind: KindRect, Points: []Point{a, b}})
}

// NewRegion creates a polygonal region.
func NewRegion(id string, points ...Point) (Drawing, error) {
	return NewDrawing(DrawingSpec{ID: id, Kind: KindRegion, Points: points})
}

// NewFib creates a fibonacci retracement between two anchors.
func NewFib(id string, a, b Point, levels ...float64) (Drawing, error) {
	return NewDrawing(DrawingSpec{ID: id, Kind: KindFib, Points: []Point{a, b}, Levels: levels})
}

func (d Drawing) ID() string        { return d.id }
func (d Drawing) Kind() DrawingKind { return d.kind }

// Points returns a copy of the anchors.
func (d Drawing) Points() []Point { return append([]Point(nil), d.points...) }

// Levels returns a copy of the fib level fractions (nil for other kinds).
func (d Drawing) Levels() []float64 { return append([]float64(nil), d.levels...) }

// Anchor returns the i-th anchor.
func (d Drawing) Anchor(i int) (Point, bool) {
	if i < 0 || i >= len(d.points) {
		return Point{}, false
	}
	return d.points[i], true
}

// NumPoints returns the number of anchors.
func (d Drawing) NumPoints() int { return len(d.points) }

// VerticalExtent returns the smallest and largest anchor y.
func (d Drawing) VerticalExtent() (top, bottom float64, ok bool) {
	if len(d.points) == 0 {
		return 0, 0, false
	}
	top, bottom = d.points[0].Y, d.points[0].Y
	for _, p := range d.points[1:] {
		top = math.Min(top, p.Y)
		bottom = math.Max(bottom, p.Y)
	}
	return top, bottom, true
}

// Spec returns the plain form of d.
func (d Drawing) Spec() DrawingSpec {
	return DrawingSpec{ID: d.id, Kind: d.kind, Points: d.Points(), Levels: d.Levels()}
}

func (d Drawing) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Spec())
}

// UnmarshalJSON decodes and validates a drawing.
func (d *Drawing) UnmarshalJSON(data []byte) error {
	var spec DrawingSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return err
	}
	nd, err := NewDrawing(spec)
	if err != nil {
		return err
	}
	*d = nd
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
