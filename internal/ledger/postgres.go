package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Postgres is the shared ledger for runs spread over several machines
// writing into the same frame tree.
type Postgres struct {
	conn *pgx.Conn
}

// NewPostgres establishes a connection to the database and ensures the schema is initialized.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &Postgres{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS completed_units (
			stage TEXT NOT NULL,
			unit TEXT NOT NULL,
			item_count INT NOT NULL,
			run_id UUID NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (stage, unit)
		);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

func (p *Postgres) Done(ctx context.Context, stage, unit string) (bool, error) {
	var exists bool
	err := p.conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM completed_units WHERE stage = $1 AND unit = $2)", stage, unit).Scan(&exists)
	return exists, err
}

func (p *Postgres) Mark(ctx context.Context, e Entry) error {
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}
	_, err := p.conn.Exec(ctx, `
		INSERT INTO completed_units (stage, unit, item_count, run_id, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stage, unit) DO UPDATE
		SET item_count = EXCLUDED.item_count, run_id = EXCLUDED.run_id, completed_at = EXCLUDED.completed_at
	`, e.Stage, e.Unit, e.Count, e.RunID, e.CompletedAt)
	return err
}

func (p *Postgres) Forget(ctx context.Context, stage, unit string) error {
	_, err := p.conn.Exec(ctx, "DELETE FROM completed_units WHERE stage = $1 AND unit = $2", stage, unit)
	return err
}

func (p *Postgres) List(ctx context.Context, stage string) ([]Entry, error) {
	rows, err := p.conn.Query(ctx, `
		SELECT stage, unit, item_count, run_id::text, completed_at
		FROM completed_units WHERE stage = $1 ORDER BY unit
	`, stage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Stage, &e.Unit, &e.Count, &e.RunID, &e.CompletedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) Reset(ctx context.Context, stage string) error {
	_, err := p.conn.Exec(ctx, "DELETE FROM completed_units WHERE stage = $1", stage)
	return err
}

// Close terminates the database connection. It uses a fresh context because the
// command context may already be cancelled by Ctrl+C.
func (p *Postgres) Close() error {
	return p.conn.Close(context.Background())
}
