package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chartcore/internal/model"
)

type drawingRow struct {
	Symbol    string `db:"symbol"`
	ID        string `db:"id"`
	Kind      string `db:"kind"`
	Spec      string `db:"spec"`
	UpdatedAt int64  `db:"updated_at"`
}

// SaveDrawing inserts or replaces a drawing.
func (s *Store) SaveDrawing(ctx context.Context, symbol string, d model.Drawing) error {
	spec, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal drawing %s: %w", d.ID(), err)
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO drawings (symbol, id, kind, spec, updated_at)
		VALUES (:symbol, :id, :kind, :spec, :updated_at)
		ON CONFLICT (symbol, id) DO UPDATE SET
			kind = excluded.kind, spec = excluded.spec, updated_at = excluded.updated_at
	`, drawingRow{
		Symbol:    symbol,
		ID:        d.ID(),
		Kind:      string(d.Kind()),
		Spec:      string(spec),
		UpdatedAt: time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("sqlite save drawing %s: %w", d.ID(), err)
	}
	return nil
}

// DeleteDrawing removes a drawing and every alert bound to it in one
// transaction.
func (s *Store) DeleteDrawing(ctx context.Context, symbol, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM drawings WHERE symbol = ? AND id = ?`, symbol, id); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite delete drawing %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM alerts WHERE symbol = ? AND drawing_id = ? AND kind <> ?`,
		symbol, id, string(model.AlertTime)); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite delete alerts of drawing %s: %w", id, err)
	}
	return tx.Commit()
}

// LoadDrawings returns every drawing of symbol in insertion order. A row
// that fails geometry validation is an error.
func (s *Store) LoadDrawings(ctx context.Context, symbol string) ([]model.Drawing, error) {
	var rows []drawingRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT symbol, id, kind, spec, updated_at FROM drawings WHERE symbol = ? ORDER BY rowid`, symbol); err != nil {
		return nil, fmt.Errorf("sqlite query drawings: %w", err)
	}

	out := make([]model.Drawing, 0, len(rows))
	for _, r := range rows {
		var d model.Drawing
		if err := json.Unmarshal([]byte(r.Spec), &d); err != nil {
			return nil, fmt.Errorf("sqlite decode drawing %s: %w", r.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}
