// Package kernelstore persists the kernel's task, dependency, schedule, and
// checkpoint state in SQLite. Every multi-statement mutation (dependency
// insert with cycle detection, schedule chaining) runs inside a single
// transaction so readers never observe a half-applied change.
package kernelstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Config controls the underlying connection pool and SQLite pragmas.
type Config struct {
	// MaxOpenConns should stay at 1 for a rwc file database; SQLite
	// serializes writers regardless, and a single connection avoids
	// "database is locked" under WAL with multiple writers in-process.
	MaxOpenConns int
	BusyTimeout  time.Duration
}

// DefaultConfig mirrors the values config.DatabaseConfig applies by default.
func DefaultConfig() Config {
	return Config{MaxOpenConns: 1, BusyTimeout: 5 * time.Second}
}

// Store is the kernel's SQLite-backed state store.
type Store struct {
	db *sql.DB
}

// Open creates or migrates the database at path and returns a ready Store.
// path may be ":memory:" for ephemeral use in tests.
func Open(path string, cfg Config) (*Store, error) {
	if cfg.MaxOpenConns <= 0 {
		cfg = DefaultConfig()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		path, cfg.BusyTimeout.Milliseconds())
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on nil return and rolling
// back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// scanner lets scan helpers accept either *sql.Row or *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func timeOrZero(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func intOrNil(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	n := int(ni.Int64)
	return &n
}

// DefaultPageSize is the limit applied to list queries whose caller did not
// request a smaller page; it bounds recovery-time and operator queries from
// scanning the entire table.
const DefaultPageSize = 100

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return limit
}
