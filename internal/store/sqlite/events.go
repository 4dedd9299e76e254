package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"chartcore/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

type eventRow struct {
	ID      string          `db:"id"`
	Symbol  string          `db:"symbol"`
	AlertID string          `db:"alert_id"`
	Kind    string          `db:"kind"`
	At      int64           `db:"at"`
	Note    string          `db:"note"`
	Sound   string          `db:"sound"`
	Price   sql.NullFloat64 `db:"price"`
}

func (r eventRow) event() model.AlertEvent {
	ev := model.AlertEvent{
		ID:      r.ID,
		AlertID: r.AlertID,
		At:      time.Unix(0, r.At).UTC(),
		Kind:    model.AlertKind(r.Kind),
		Note:    r.Note,
		Sound:   r.Sound,
	}
	if r.Price.Valid {
		p := r.Price.Float64
		ev.Price = &p
	}
	return ev
}

// RunEvents journals events from ch in batched transactions. Flushes every
// defaultBatchSize events OR every defaultFlushDelay, whichever first.
// Blocks until ctx is cancelled or ch is closed.
func (s *Store) RunEvents(ctx context.Context, symbol string, ch <-chan model.AlertEvent) {
	batch := make([]model.AlertEvent, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// the loop's ctx may already be cancelled on the final flush
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.InsertEvents(flushCtx, symbol, batch); err != nil {
			slog.Error("sqlite journal batch failed", "count", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case ev, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// InsertEvents appends events in a single transaction. Re-inserting an
// event id is a no-op.
func (s *Store) InsertEvents(ctx context.Context, symbol string, events []model.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT OR IGNORE INTO alert_events (id, symbol, alert_id, kind, at, note, sound, price)
		VALUES (:id, :symbol, :alert_id, :kind, :at, :note, :sound, :price)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		row := eventRow{
			ID:      ev.ID,
			Symbol:  symbol,
			AlertID: ev.AlertID,
			Kind:    string(ev.Kind),
			At:      ev.At.UnixNano(),
			Note:    ev.Note,
			Sound:   ev.Sound,
		}
		if ev.Price != nil {
			row.Price = sql.NullFloat64{Float64: *ev.Price, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert event %s: %w", ev.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if s.OnCommit != nil {
		s.OnCommit(len(events), time.Since(start).Seconds())
	}
	slog.Debug("sqlite journal committed", "count", len(events), "took", time.Since(start))
	return nil
}

// RecentEvents returns up to limit events of symbol, newest first.
func (s *Store) RecentEvents(ctx context.Context, symbol string, limit int) ([]model.AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, symbol, alert_id, kind, at, note, sound, price
		FROM alert_events WHERE symbol = ?
		ORDER BY at DESC, rowid DESC LIMIT ?`, symbol, limit); err != nil {
		return nil, fmt.Errorf("sqlite query events: %w", err)
	}
	out := make([]model.AlertEvent, len(rows))
	for i, r := range rows {
		out[i] = r.event()
	}
	return out, nil
}

// EventsForAlert returns every journaled event of one alert, oldest first.
func (s *Store) EventsForAlert(ctx context.Context, symbol, alertID string) ([]model.AlertEvent, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, symbol, alert_id, kind, at, note, sound, price
		FROM alert_events WHERE symbol = ? AND alert_id = ?
		ORDER BY at ASC, rowid ASC`, symbol, alertID); err != nil {
		return nil, fmt.Errorf("sqlite query events of %s: %w", alertID, err)
	}
	out := make([]model.AlertEvent, len(rows))
	for i, r := range rows {
		out[i] = r.event()
	}
	return out, nil
}
