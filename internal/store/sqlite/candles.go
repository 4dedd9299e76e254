package sqlite

import (
	"context"
	"fmt"
	"time"

	"chartcore/internal/model"
)

type candleRow struct {
	Symbol string  `db:"symbol"`
	TS     int64   `db:"ts"` // unix millis
	Open   float64 `db:"open"`
	High   float64 `db:"high"`
	Low    float64 `db:"low"`
	Close  float64 `db:"close"`
	Volume float64 `db:"volume"`
}

func (r candleRow) candle() model.Candle {
	return model.Candle{
		Time:   time.UnixMilli(r.TS).UTC(),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}

// UpsertCandles inserts or replaces candles in a single transaction.
func (s *Store) UpsertCandles(ctx context.Context, symbol string, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, ts, open, high, low, close, volume)
		VALUES (:symbol, :ts, :open, :high, :low, :close, :volume)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, candleRow{
			Symbol: symbol,
			TS:     c.Time.UnixMilli(),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert candle: %w", err)
		}
	}
	return tx.Commit()
}

// ReadCandles returns candles of symbol with from <= time < to, ordered by
// time ascending. A zero to means no upper bound.
func (s *Store) ReadCandles(ctx context.Context, symbol string, from, to time.Time) ([]model.Candle, error) {
	upper := int64(1<<63 - 1)
	if !to.IsZero() {
		upper = to.UnixMilli()
	}
	var rows []candleRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT symbol, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC`, symbol, from.UnixMilli(), upper); err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	return toCandles(rows), nil
}

// LastCandles returns the newest n candles of symbol, ordered by time
// ascending.
func (s *Store) LastCandles(ctx context.Context, symbol string, n int) ([]model.Candle, error) {
	var rows []candleRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM (
			SELECT symbol, ts, open, high, low, close, volume
			FROM candles WHERE symbol = ?
			ORDER BY ts DESC LIMIT ?
		) ORDER BY ts ASC`, symbol, n); err != nil {
		return nil, fmt.Errorf("sqlite query last candles: %w", err)
	}
	return toCandles(rows), nil
}

func toCandles(rows []candleRow) []model.Candle {
	out := make([]model.Candle, len(rows))
	for i, r := range rows {
		out[i] = r.candle()
	}
	return out
}
