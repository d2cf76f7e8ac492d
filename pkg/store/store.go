// Package store provides typed repositories over the embedded SQLite
// database: sessions, messages, and clients.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
)

// busyRetries is how many times a write is retried on SQLITE_BUSY before
// surfacing ErrBusy. The connection's busy_timeout pragma absorbs most
// contention already; this covers the cases where it expires.
const busyRetries = 3

const busyBackoff = 50 * time.Millisecond

// Store executes all persistence operations. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// New creates a Store over an opened database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *sql.DB { return s.db }

const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// isBusy reports whether err is a transient SQLite lock conflict.
func isBusy(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code() & 0xff
		return code == sqliteBusy || code == sqliteLocked
	}
	return false
}

// withRetry runs fn, retrying a bounded number of times on lock conflicts.
// A conflict that survives all retries is surfaced as ErrBusy.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-time.After(busyBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", ErrBusy, err)
}

// inTx runs fn inside a transaction, committing on nil and rolling back on
// error. The whole transaction participates in busy retries.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("starting transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// nowMillis returns the current time as epoch milliseconds, the timestamp
// representation used across all tables.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
