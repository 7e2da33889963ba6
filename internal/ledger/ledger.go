// Package ledger records completed units of work so an interrupted batch can
// resume without mistaking a partial output directory for a finished one.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/dfprep/internal/config"
	"github.com/google/uuid"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown ledger driver")

// Stage names used as the ledger's first key.
const (
	StageExtract = "extract"
)

// Entry is one completed unit.
type Entry struct {
	Stage       string
	Unit        string
	Count       int
	RunID       string
	CompletedAt time.Time
}

// Ledger persists completion entries keyed by (stage, unit).
type Ledger interface {
	Done(ctx context.Context, stage, unit string) (bool, error)
	Mark(ctx context.Context, e Entry) error
	Forget(ctx context.Context, stage, unit string) error
	List(ctx context.Context, stage string) ([]Entry, error)
	Reset(ctx context.Context, stage string) error
	Close() error
}

// NewRunID returns a fresh identifier for one CLI invocation.
func NewRunID() string {
	return uuid.NewString()
}

// Open connects the configured driver. Driver "none" returns a nil Ledger:
// callers fall back to the output-directory guard.
func Open(ctx context.Context, cfg config.Ledger) (Ledger, error) {
	switch cfg.Driver {
	case "sqlite":
		l, err := NewSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite ledger %s: %w", cfg.Path, err)
		}
		return l, nil
	case "postgres":
		if cfg.URL == "" {
			return nil, fmt.Errorf("postgres ledger requires a connection url")
		}
		l, err := NewPostgres(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres ledger: %w", err)
		}
		return l, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
