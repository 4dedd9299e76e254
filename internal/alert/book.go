package alert

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chartcore/internal/model"
)

// ErrNotFound is returned for operations on an unknown alert id.
var ErrNotFound = errors.New("alert not found")

// Book is the alert and drawing set of one chart. All methods are safe for
// concurrent use; an evaluation holds the lock for its whole pass so the
// alert set is read-modify-written atomically.
type Book struct {
	mu       sync.Mutex
	drawings map[string]model.Drawing
	alerts   []*model.Alert // insertion order
	eval     Evaluator
}

// NewBook creates an empty Book that evaluates with eval.
func NewBook(eval Evaluator) *Book {
	return &Book{
		drawings: make(map[string]model.Drawing),
		eval:     eval,
	}
}

// UpsertDrawing adds d or replaces the drawing with the same id.
func (b *Book) UpsertDrawing(d model.Drawing) error {
	if d.ID() == "" {
		return fmt.Errorf("%w: drawing id is empty", model.ErrInvalidParameter)
	}
	b.mu.Lock()
	b.drawings[d.ID()] = d
	b.mu.Unlock()
	return nil
}

// RemoveDrawing deletes a drawing together with every alert bound to it
// and returns the ids of the removed alerts.
func (b *Book) RemoveDrawing(id string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.drawings, id)
	var removed []string
	kept := b.alerts[:0]
	for _, a := range b.alerts {
		if a.Kind != model.AlertTime && a.DrawingID == id {
			removed = append(removed, a.ID)
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(b.alerts); i++ {
		b.alerts[i] = nil
	}
	b.alerts = kept
	return removed
}

// Drawing returns the drawing with the given id.
func (b *Book) Drawing(id string) (model.Drawing, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.drawings[id]
	return d, ok
}

// Drawings returns every drawing, in no particular order.
func (b *Book) Drawings() []model.Drawing {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Drawing, 0, len(b.drawings))
	for _, d := range b.drawings {
		out = append(out, d)
	}
	return out
}

// Validate checks an alert definition. The referenced drawing need not
// exist.
func Validate(a *model.Alert) error {
	switch a.Kind {
	case model.AlertTime:
		if a.When == nil {
			return fmt.Errorf("%w: time alert %q has no trigger time", model.ErrInvalidParameter, a.ID)
		}
	case model.AlertCross, model.AlertFibCross, model.AlertRegionTouch:
		if a.DrawingID == "" {
			return fmt.Errorf("%w: %s alert %q has no drawing", model.ErrInvalidParameter, a.Kind, a.ID)
		}
	default:
		return fmt.Errorf("%w: unknown alert kind %q", model.ErrInvalidParameter, a.Kind)
	}
	if a.Cooldown < 0 {
		return fmt.Errorf("%w: negative cooldown", model.ErrInvalidParameter)
	}
	if a.MaxTriggers < 0 {
		return fmt.Errorf("%w: negative max triggers", model.ErrInvalidParameter)
	}
	return nil
}

// AddAlert validates a and appends a copy. An empty id is replaced with a
// fresh UUID. The stored copy is returned.
func (b *Book) AddAlert(a model.Alert) (model.Alert, error) {
	if err := Validate(&a); err != nil {
		return model.Alert{}, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexOf(a.ID) >= 0 {
		return model.Alert{}, fmt.Errorf("%w: duplicate alert id %q", model.ErrInvalidParameter, a.ID)
	}
	b.alerts = append(b.alerts, a.Clone())
	return a, nil
}

// UpdateAlert replaces the definition of an existing alert. The trigger
// counter and last trigger time are kept.
func (b *Book) UpdateAlert(a model.Alert) error {
	if err := Validate(&a); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(a.ID)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, a.ID)
	}
	cur := b.alerts[i]
	next := a.Clone()
	next.Triggers = cur.Triggers
	next.LastTriggeredAt = cur.LastTriggeredAt
	b.alerts[i] = next
	return nil
}

// RemoveAlert deletes an alert. It reports whether one was removed.
func (b *Book) RemoveAlert(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	b.alerts = append(b.alerts[:i], b.alerts[i+1:]...)
	return true
}

// Alert returns a copy of the alert with the given id.
func (b *Book) Alert(id string) (model.Alert, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return model.Alert{}, false
	}
	return *b.alerts[i].Clone(), true
}

// Alerts returns copies of every alert in insertion order.
func (b *Book) Alerts() []model.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Alert, len(b.alerts))
	for i, a := range b.alerts {
		out[i] = *a.Clone()
	}
	return out
}

// Len returns the number of alerts.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.alerts)
}

// Snooze suppresses an alert until the given time. A zero time clears it.
func (b *Book) Snooze(id string, until time.Time) error {
	return b.mutate(id, func(a *model.Alert) {
		if until.IsZero() {
			a.SnoozedUntil = nil
			return
		}
		a.SnoozedUntil = &until
	})
}

// SetEnabled switches an alert on or off.
func (b *Book) SetEnabled(id string, enabled bool) error {
	return b.mutate(id, func(a *model.Alert) { a.Enabled = enabled })
}

// Reset clears the trigger counter and last trigger time, re-arming a
// capped alert.
func (b *Book) Reset(id string) error {
	return b.mutate(id, func(a *model.Alert) {
		a.Triggers = 0
		a.LastTriggeredAt = nil
	})
}

// Evaluate runs one evaluation pass over the whole set.
func (b *Book) Evaluate(s Sample) []model.AlertEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eval.Evaluate(b.alerts, b.lookup, s)
}

// lookup must be called with mu held.
func (b *Book) lookup(id string) (model.Drawing, bool) {
	d, ok := b.drawings[id]
	return d, ok
}

func (b *Book) mutate(id string, fn func(a *model.Alert)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	fn(b.alerts[i])
	return nil
}

func (b *Book) indexOf(id string) int {
	for i, a := range b.alerts {
		if a.ID == id {
			return i
		}
	}
	return -1
}
