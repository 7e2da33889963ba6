package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is the default single-machine ledger.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode so `ledger list` can read while a batch writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS completed_units (
    stage        TEXT NOT NULL,
    unit         TEXT NOT NULL,
    item_count   INTEGER NOT NULL,
    run_id       TEXT NOT NULL,
    completed_at TEXT NOT NULL,
    PRIMARY KEY (stage, unit)
);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Done(ctx context.Context, stage, unit string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM completed_units WHERE stage = ? AND unit = ?", stage, unit).Scan(&n)
	return n > 0, err
}

// Mark records (or refreshes) a completed unit.
func (s *SQLite) Mark(ctx context.Context, e Entry) error {
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO completed_units (stage, unit, item_count, run_id, completed_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (stage, unit) DO UPDATE SET
    item_count = excluded.item_count,
    run_id = excluded.run_id,
    completed_at = excluded.completed_at`,
		e.Stage, e.Unit, e.Count, e.RunID, e.CompletedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLite) Forget(ctx context.Context, stage, unit string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM completed_units WHERE stage = ? AND unit = ?", stage, unit)
	return err
}

// List returns a stage's entries ordered by unit.
func (s *SQLite) List(ctx context.Context, stage string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT stage, unit, item_count, run_id, completed_at
FROM completed_units WHERE stage = ? ORDER BY unit`, stage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.Stage, &e.Unit, &e.Count, &e.RunID, &ts); err != nil {
			return nil, err
		}
		if e.CompletedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing completed_at for %s: %w", e.Unit, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Reset forgets every entry of a stage.
func (s *SQLite) Reset(ctx context.Context, stage string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM completed_units WHERE stage = ?", stage)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
