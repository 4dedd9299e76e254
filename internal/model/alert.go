package model

import (
	"encoding/json"
	"time"
)

// AlertKind selects the trigger test applied to an alert.
type AlertKind string

const (
	AlertCross       AlertKind = "cross"
	AlertFibCross    AlertKind = "fib-cross"
	AlertRegionTouch AlertKind = "region-touch"
	AlertTime        AlertKind = "time"
)

// DefaultFibLevel is the retracement fraction used when a fib-cross alert
// does not name one.
const DefaultFibLevel = 0.618

// Alert is a user rule bound to a drawing (or to a wall-clock instant for
// time alerts). The evaluator only ever writes Triggers and LastTriggeredAt.
type Alert struct {
	ID           string        `json:"id"`
	Kind         AlertKind     `json:"kind"`
	DrawingID    string        `json:"drawing_id,omitempty"`
	Enabled      bool          `json:"enabled"`
	Note         string        `json:"note,omitempty"`
	FibLevel     *float64      `json:"fib_level,omitempty"`
	Cooldown     time.Duration `json:"-"` // JSON: cooldown_ms
	MaxTriggers  int           `json:"max_triggers,omitempty"` // 0 = unlimited
	Sound        string        `json:"sound,omitempty"`
	When         *time.Time    `json:"when,omitempty"`
	SnoozedUntil *time.Time    `json:"snoozed_until,omitempty"`

	Triggers        int        `json:"triggers"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// alertJSON has Alert's fields without its methods.
type alertJSON Alert

// MarshalJSON writes Cooldown as integer milliseconds under cooldown_ms.
func (a Alert) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		alertJSON
		CooldownMs int64 `json:"cooldown_ms"`
	}{alertJSON(a), a.Cooldown.Milliseconds()})
}

// UnmarshalJSON reads cooldown_ms as integer milliseconds.
func (a *Alert) UnmarshalJSON(data []byte) error {
	aux := struct {
		*alertJSON
		CooldownMs *int64 `json:"cooldown_ms"`
	}{alertJSON: (*alertJSON)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.CooldownMs != nil {
		a.Cooldown = time.Duration(*aux.CooldownMs) * time.Millisecond
	}
	return nil
}

// Fib returns the configured fib fraction or DefaultFibLevel.
func (a *Alert) Fib() float64 {
	if a.FibLevel == nil {
		return DefaultFibLevel
	}
	return *a.FibLevel
}

// Clone returns a deep copy of a.
func (a *Alert) Clone() *Alert {
	c := *a
	c.FibLevel = cloneFloat(a.FibLevel)
	c.When = cloneTime(a.When)
	c.SnoozedUntil = cloneTime(a.SnoozedUntil)
	c.LastTriggeredAt = cloneTime(a.LastTriggeredAt)
	return &c
}

// AlertEvent records one firing. It is never modified after creation.
type AlertEvent struct {
	ID      string    `json:"id"`
	AlertID string    `json:"alert_id"`
	At      time.Time `json:"at"`
	Kind    AlertKind `json:"kind"`
	Note    string    `json:"note,omitempty"`
	Sound   string    `json:"sound,omitempty"`
	Price   *float64  `json:"price,omitempty"`
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (e *AlertEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
