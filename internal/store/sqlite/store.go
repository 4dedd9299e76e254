package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists drawings, alerts, the alert event journal and OHLCV
// history. Every row is scoped to a symbol.
type Store struct {
	db *sqlx.DB

	// OnCommit is called after each journal batch commit (for metrics).
	OnCommit func(n int, seconds float64)
}

// Open opens (or creates) the database at path with WAL mode and applies
// the schema. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; also keeps an in-memory database on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite opened", "path", path)
	return &Store{db: db}, nil
}

func createSchema(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS drawings (
			symbol     TEXT    NOT NULL,
			id         TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			spec       TEXT    NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, id)
		);

		CREATE TABLE IF NOT EXISTS alerts (
			symbol            TEXT    NOT NULL,
			id                TEXT    NOT NULL,
			kind              TEXT    NOT NULL,
			drawing_id        TEXT    NOT NULL DEFAULT '',
			data              TEXT    NOT NULL,
			triggers          INTEGER NOT NULL DEFAULT 0,
			last_triggered_at INTEGER,
			PRIMARY KEY (symbol, id)
		);
		CREATE INDEX IF NOT EXISTS alerts_drawing ON alerts (symbol, drawing_id);

		CREATE TABLE IF NOT EXISTS alert_events (
			id       TEXT    NOT NULL PRIMARY KEY,
			symbol   TEXT    NOT NULL,
			alert_id TEXT    NOT NULL,
			kind     TEXT    NOT NULL,
			at       INTEGER NOT NULL,
			note     TEXT    NOT NULL DEFAULT '',
			sound    TEXT    NOT NULL DEFAULT '',
			price    REAL
		);
		CREATE INDEX IF NOT EXISTS alert_events_at ON alert_events (symbol, at);

		CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, ts)
		);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db.DB }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
