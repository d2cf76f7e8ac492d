// Package database provides the embedded SQLite client and migration
// utilities.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Register the CGO-free sqlite driver for database/sql
)

// Client wraps the SQLite connection.
type Client struct {
	db   *sql.DB
	path string
}

// DB returns the underlying connection for health checks and direct queries.
func (c *Client) DB() *sql.DB { return c.db }

// Path returns the database file path the client was opened with.
func (c *Client) Path() string { return c.path }

// Close closes the underlying connection.
func (c *Client) Close() error { return c.db.Close() }

// NewClient opens (creating if necessary) the database at path, applies the
// connection pragmas, and runs pending migrations.
//
// WAL journaling with synchronous=NORMAL gives concurrent readers alongside
// the single writer; busy_timeout makes writers queue briefly instead of
// failing immediately on lock contention. SQLite still admits one writer at
// a time; the pool is not limited to one connection (MaxOpenConns=1 would
// serialize reads too), so instead the store layer retries on SQLITE_BUSY.
func NewClient(ctx context.Context, path string) (*Client, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := "file:" + url.PathEscape(path) +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Client{db: db, path: path}, nil
}

// Backup snapshots the database to destPath atomically via VACUUM INTO.
// The destination must not already exist.
func (c *Client) Backup(ctx context.Context, destPath string) error {
	if destPath == "" {
		return fmt.Errorf("backup path is required")
	}
	if dir := filepath.Dir(destPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating backup directory: %w", err)
		}
	}
	if _, err := c.db.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}
