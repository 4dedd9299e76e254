// Package alert evaluates user alerts against consecutive pixel-space price
// samples and keeps the alert and drawing set they are bound to.
//
// Evaluation is synchronous: every call reads the whole alert set, fires
// what qualifies and returns the resulting events in alert order. Only the
// Triggers and LastTriggeredAt fields of an alert are ever written.
package alert

import (
	"time"

	"github.com/google/uuid"

	"chartcore/internal/model"
)

// Sample is one evaluation input: the previous and current pixel y of the
// last price and the wall-clock time of the current sample. Price is the
// raw quote carried into emitted events; it may be null.
type Sample struct {
	PrevY model.NullFloat
	CurrY model.NullFloat
	Price model.NullFloat
	Now   time.Time
}

// DrawingLookup resolves a drawing id. ok is false for deleted drawings.
type DrawingLookup func(id string) (model.Drawing, bool)

// Evaluator holds the optional collaborators of an evaluation pass. The
// zero value is ready to use.
type Evaluator struct {
	// NewID generates event ids. Defaults to uuid.NewString.
	NewID func() string
	// OnOrphan is called for every alert whose drawing cannot be found.
	OnOrphan func(a *model.Alert)
}

// Evaluate runs the zero Evaluator.
func Evaluate(alerts []*model.Alert, lookup DrawingLookup, s Sample) []model.AlertEvent {
	return Evaluator{}.Evaluate(alerts, lookup, s)
}

// Evaluate checks every alert against s and fires the ones that qualify.
// Fired alerts get Triggers incremented and LastTriggeredAt set to s.Now.
// The returned events follow the order of alerts.
func (e Evaluator) Evaluate(alerts []*model.Alert, lookup DrawingLookup, s Sample) []model.AlertEvent {
	var events []model.AlertEvent
	for _, a := range alerts {
		if a == nil || !Armed(a, s.Now) {
			continue
		}
		if !e.triggered(a, lookup, s) {
			continue
		}
		events = append(events, e.fire(a, s))
	}
	return events
}

// Armed reports whether a passes its gates at now: enabled, not snoozed,
// below its trigger cap and out of cooldown.
func Armed(a *model.Alert, now time.Time) bool {
	if !a.Enabled {
		return false
	}
	if a.SnoozedUntil != nil && now.Before(*a.SnoozedUntil) {
		return false
	}
	if limit := triggerCap(a); limit > 0 && a.Triggers >= limit {
		return false
	}
	if a.LastTriggeredAt != nil && a.Cooldown > 0 && now.Sub(*a.LastTriggeredAt) < a.Cooldown {
		return false
	}
	return true
}

// triggerCap returns the effective cap; 0 means unlimited. Time alerts
// without an explicit cap fire once.
func triggerCap(a *model.Alert) int {
	if a.Kind == model.AlertTime && a.MaxTriggers == 0 {
		return 1
	}
	return a.MaxTriggers
}

func (e Evaluator) triggered(a *model.Alert, lookup DrawingLookup, s Sample) bool {
	if a.Kind == model.AlertTime {
		return a.When != nil && !s.Now.Before(*a.When)
	}
	if !s.PrevY.Valid || !s.CurrY.Valid {
		return false
	}
	if lookup == nil {
		return false
	}
	d, ok := lookup(a.DrawingID)
	if !ok {
		if e.OnOrphan != nil {
			e.OnOrphan(a)
		}
		return false
	}

	prev, curr := s.PrevY.Float, s.CurrY.Float
	switch a.Kind {
	case model.AlertCross:
		target, ok := CrossTarget(d)
		return ok && Crossed(prev, curr, target)
	case model.AlertFibCross:
		target, ok := FibTarget(d, a.Fib())
		return ok && Crossed(prev, curr, target)
	case model.AlertRegionTouch:
		top, bottom, ok := RegionBounds(d)
		return ok && Touched(prev, curr, top, bottom)
	}
	return false
}

func (e Evaluator) fire(a *model.Alert, s Sample) model.AlertEvent {
	newID := e.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := s.Now
	a.Triggers++
	a.LastTriggeredAt = &now

	ev := model.AlertEvent{
		ID:      newID(),
		AlertID: a.ID,
		At:      now,
		Kind:    a.Kind,
		Note:    a.Note,
		Sound:   a.Sound,
	}
	if p, ok := s.Price.Get(); ok {
		ev.Price = &p
	}
	return ev
}

// Crossed reports a sign change, or an exact touch, of (sample - target)
// between prev and curr.
func Crossed(prev, curr, target float64) bool {
	return (prev-target)*(curr-target) <= 0
}

// CrossTarget returns the y a cross alert tests against. Horizontal lines
// use their fixed y. Two-point lines use the y of their second anchor,
// which is not a projection at the sample's x.
func CrossTarget(d model.Drawing) (float64, bool) {
	switch {
	case d.Kind() == model.KindHLine:
		p, ok := d.Anchor(0)
		return p.Y, ok
	case d.Kind().IsTwoPointLine():
		p, ok := d.Anchor(1)
		return p.Y, ok
	}
	return 0, false
}

// FibTarget interpolates between the two anchor y values of a fib drawing
// at fraction level, measured from the first anchor.
func FibTarget(d model.Drawing, level float64) (float64, bool) {
	if d.Kind() != model.KindFib {
		return 0, false
	}
	a, okA := d.Anchor(0)
	b, okB := d.Anchor(1)
	if !okA || !okB {
		return 0, false
	}
	return a.Y + (b.Y-a.Y)*level, true
}

// RegionBounds returns the normalized vertical band of a rect or region.
func RegionBounds(d model.Drawing) (top, bottom float64, ok bool) {
	switch d.Kind() {
	case model.KindRect, model.KindRegion:
		return d.VerticalExtent()
	}
	return 0, 0, false
}

// Touched reports whether curr lies inside [top, bottom], or the pair
// entered the band across its top edge (prev < top) or its bottom edge
// (prev > bottom).
func Touched(prev, curr, top, bottom float64) bool {
	inside := curr >= top && curr <= bottom
	enteredTop := prev < top && curr >= top
	enteredBottom := prev > bottom && curr <= bottom
	return inside || enteredTop || enteredBottom
}
