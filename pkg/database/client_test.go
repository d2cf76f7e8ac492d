package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_CreatesFileAndSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "gw.db")

	client, err := NewClient(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = os.Stat(path)
	require.NoError(t, err, "database file should exist")

	var journalMode string
	require.NoError(t, client.DB().QueryRow(`PRAGMA journal_mode`).Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var fk int
	require.NoError(t, client.DB().QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)

	// Schema exists and migrations are idempotent on reopen.
	var count int
	require.NoError(t, client.DB().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('sessions','messages','clients')`).Scan(&count))
	assert.Equal(t, 3, count)

	require.NoError(t, client.Close())
	reopened, err := NewClient(ctx, path)
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	client, err := NewClient(ctx, filepath.Join(dir, "gw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.DB().ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, last_activity) VALUES ('s1', 1, 1)`)
	require.NoError(t, err)

	dest := filepath.Join(dir, "backups", "snap.db")
	require.NoError(t, client.Backup(ctx, dest))

	snapshot, err := NewClient(ctx, dest)
	require.NoError(t, err)
	t.Cleanup(func() { _ = snapshot.Close() })

	var n int
	require.NoError(t, snapshot.DB().QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n))
	assert.Equal(t, 1, n)

	assert.Error(t, client.Backup(ctx, ""), "empty backup path is rejected")
}

func TestHealth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewClient(ctx, filepath.Join(t.TempDir(), "gw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	status, err := Health(ctx, client.DB())
	require.NoError(t, err)
	assert.True(t, status.Connected)
}
