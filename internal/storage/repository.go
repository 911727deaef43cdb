// Package storage persists tasks, budget transactions, feedback, and the
// chat inbox in SQLite. It is the serialization boundary for the structured
// sub-records (actions, citations, instructions) stored as JSON columns.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Options configures repository behavior.
type Options struct {
	// AllowOverrun permits spend transactions that drive the balance
	// negative. They succeed, get an overrun-tagged note, and are logged.
	// Default is to reject them.
	AllowOverrun bool
}

type Repository struct {
	db   *sql.DB
	opts Options

	// ledgerMu serializes balance-check-then-append on the budget ledger
	// so concurrent spends cannot both pass the admission gate.
	ledgerMu sync.Mutex
}

func New(dbPath string, opts Options) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db, opts: opts}, nil
}

// Ping verifies the database connection is still serviceable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
