package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chartcore/internal/model"
)

type alertRow struct {
	Symbol          string        `db:"symbol"`
	ID              string        `db:"id"`
	Kind            string        `db:"kind"`
	DrawingID       string        `db:"drawing_id"`
	Data            string        `db:"data"`
	Triggers        int           `db:"triggers"`
	LastTriggeredAt sql.NullInt64 `db:"last_triggered_at"`
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// SaveAlert inserts or replaces an alert definition together with its
// counters. Re-saving keeps the original insertion order.
func (s *Store) SaveAlert(ctx context.Context, symbol string, a model.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert %s: %w", a.ID, err)
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO alerts (symbol, id, kind, drawing_id, data, triggers, last_triggered_at)
		VALUES (:symbol, :id, :kind, :drawing_id, :data, :triggers, :last_triggered_at)
		ON CONFLICT (symbol, id) DO UPDATE SET
			kind = excluded.kind,
			drawing_id = excluded.drawing_id,
			data = excluded.data,
			triggers = excluded.triggers,
			last_triggered_at = excluded.last_triggered_at
	`, alertRow{
		Symbol:          symbol,
		ID:              a.ID,
		Kind:            string(a.Kind),
		DrawingID:       a.DrawingID,
		Data:            string(data),
		Triggers:        a.Triggers,
		LastTriggeredAt: nullTime(a.LastTriggeredAt),
	})
	if err != nil {
		return fmt.Errorf("sqlite save alert %s: %w", a.ID, err)
	}
	return nil
}

// SaveAlertDefinition inserts an alert or updates its definition while
// leaving the stored trigger counters untouched. Counters of a new alert
// are taken from a.
func (s *Store) SaveAlertDefinition(ctx context.Context, symbol string, a model.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert %s: %w", a.ID, err)
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO alerts (symbol, id, kind, drawing_id, data, triggers, last_triggered_at)
		VALUES (:symbol, :id, :kind, :drawing_id, :data, :triggers, :last_triggered_at)
		ON CONFLICT (symbol, id) DO UPDATE SET
			kind = excluded.kind,
			drawing_id = excluded.drawing_id,
			data = excluded.data
	`, alertRow{
		Symbol:          symbol,
		ID:              a.ID,
		Kind:            string(a.Kind),
		DrawingID:       a.DrawingID,
		Data:            string(data),
		Triggers:        a.Triggers,
		LastTriggeredAt: nullTime(a.LastTriggeredAt),
	})
	if err != nil {
		return fmt.Errorf("sqlite save alert definition %s: %w", a.ID, err)
	}
	return nil
}

// UpdateAlertTriggers writes only the counters of a fired alert.
func (s *Store) UpdateAlertTriggers(ctx context.Context, symbol, id string, triggers int, last *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET triggers = ?, last_triggered_at = ? WHERE symbol = ? AND id = ?`,
		triggers, nullTime(last), symbol, id)
	if err != nil {
		return fmt.Errorf("sqlite update alert %s: %w", id, err)
	}
	return nil
}

// DeleteAlert removes one alert.
func (s *Store) DeleteAlert(ctx context.Context, symbol, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE symbol = ? AND id = ?`, symbol, id); err != nil {
		return fmt.Errorf("sqlite delete alert %s: %w", id, err)
	}
	return nil
}

// LoadAlerts returns every alert of symbol in insertion order. The counter
// columns take precedence over the JSON document.
func (s *Store) LoadAlerts(ctx context.Context, symbol string) ([]model.Alert, error) {
	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT symbol, id, kind, drawing_id, data, triggers, last_triggered_at
		FROM alerts WHERE symbol = ? ORDER BY rowid`, symbol); err != nil {
		return nil, fmt.Errorf("sqlite query alerts: %w", err)
	}

	out := make([]model.Alert, 0, len(rows))
	for _, r := range rows {
		var a model.Alert
		if err := json.Unmarshal([]byte(r.Data), &a); err != nil {
			return nil, fmt.Errorf("sqlite decode alert %s: %w", r.ID, err)
		}
		a.Triggers = r.Triggers
		a.LastTriggeredAt = nil
		if r.LastTriggeredAt.Valid {
			t := time.Unix(0, r.LastTriggeredAt.Int64).UTC()
			a.LastTriggeredAt = &t
		}
		out = append(out, a)
	}
	return out, nil
}
