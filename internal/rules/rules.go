// Package rules loads drawings and alerts from a YAML rules file so a
// headless chart can start with a known set of user objects.
//
//	drawings:
//	  - id: support
//	    kind: hline
//	    points: [{x: 0, y: 412}]
//	alerts:
//	  - kind: cross
//	    drawing: support
//	    cooldown: 30s
//	    max_triggers: 3
package rules

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"chartcore/internal/model"
)

// File is the decoded rules document.
type File struct {
	Drawings []DrawingRule `yaml:"drawings" validate:"dive"`
	Alerts   []AlertRule   `yaml:"alerts" validate:"dive"`
}

// DrawingRule is one drawing entry. A missing id is generated.
type DrawingRule struct {
	ID     string        `yaml:"id"`
	Kind   string        `yaml:"kind" validate:"required,oneof=hline line ray arrow rect region fib"`
	Points []model.Point `yaml:"points" validate:"required,min=1"`
	Levels []float64     `yaml:"levels"`
}

// AlertRule is one alert entry. Enabled defaults to true.
type AlertRule struct {
	ID          string        `yaml:"id"`
	Kind        string        `yaml:"kind" validate:"required,oneof=cross fib-cross region-touch time"`
	Drawing     string        `yaml:"drawing" validate:"required_unless=Kind time"`
	Enabled     *bool         `yaml:"enabled"`
	Note        string        `yaml:"note"`
	FibLevel    *float64      `yaml:"fib_level"`
	Cooldown    time.Duration `yaml:"cooldown" validate:"gte=0"`
	MaxTriggers int           `yaml:"max_triggers" validate:"gte=0"`
	Sound       string        `yaml:"sound"`
	When        *time.Time    `yaml:"when" validate:"required_if=Kind time"`
}

var validate = validator.New()

// Rules is a validated rules file.
type Rules struct {
	Drawings []model.Drawing
	Alerts   []model.Alert
}

// LoadFile reads and validates the rules file at path.
func LoadFile(path string) (*Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a rules document from r. Unknown fields are rejected, every
// alert must reference a drawing declared in the same document, and drawing
// geometry is checked against its kind.
func Decode(r io.Reader) (*Rules, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc File
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("%w: rules: %v", model.ErrInvalidParameter, err)
	}
	return doc.build()
}

func (doc *File) build() (*Rules, error) {
	out := &Rules{}
	known := make(map[string]bool, len(doc.Drawings))
	for i, dr := range doc.Drawings {
		id := dr.ID
		if id == "" {
			id = uuid.NewString()
		}
		if known[id] {
			return nil, fmt.Errorf("%w: duplicate drawing id %q", model.ErrInvalidParameter, id)
		}
		d, err := model.NewDrawing(model.DrawingSpec{
			ID:     id,
			Kind:   model.DrawingKind(dr.Kind),
			Points: dr.Points,
			Levels: dr.Levels,
		})
		if err != nil {
			return nil, fmt.Errorf("drawing %d: %w", i, err)
		}
		known[id] = true
		out.Drawings = append(out.Drawings, d)
	}

	seen := make(map[string]bool, len(doc.Alerts))
	for i, ar := range doc.Alerts {
		a := ar.alert()
		if seen[a.ID] {
			return nil, fmt.Errorf("%w: duplicate alert id %q", model.ErrInvalidParameter, a.ID)
		}
		if a.Kind != model.AlertTime && !known[a.DrawingID] {
			return nil, fmt.Errorf("%w: alert %d references unknown drawing %q", model.ErrInvalidParameter, i, a.DrawingID)
		}
		seen[a.ID] = true
		out.Alerts = append(out.Alerts, a)
	}
	return out, nil
}

func (ar AlertRule) alert() model.Alert {
	id := ar.ID
	if id == "" {
		id = uuid.NewString()
	}
	enabled := true
	if ar.Enabled != nil {
		enabled = *ar.Enabled
	}
	a := model.Alert{
		ID:          id,
		Kind:        model.AlertKind(ar.Kind),
		Enabled:     enabled,
		Note:        ar.Note,
		FibLevel:    ar.FibLevel,
		Cooldown:    ar.Cooldown,
		MaxTriggers: ar.MaxTriggers,
		Sound:       ar.Sound,
		When:        ar.When,
	}
	if a.Kind != model.AlertTime {
		a.DrawingID = ar.Drawing
	}
	return a
}
