package cleanup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/database"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := database.NewClient(ctx, filepath.Join(t.TempDir(), "cleanup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return store.New(client.DB())
}

func TestService_SweepsOldSessions(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -60).UnixMilli()
	_, err := st.CreateSession(ctx, "stale", old, nil)
	require.NoError(t, err)
	inactive := false
	require.NoError(t, st.UpdateSession(ctx, "stale",
		store.SessionPatch{IsActive: &inactive, LastActivity: &old}))

	svc := NewService(st, 30, time.Hour)
	svc.Start(ctx)
	t.Cleanup(svc.Stop)

	// The initial sweep runs immediately on start.
	require.Eventually(t, func() bool {
		_, err := st.GetSession(ctx, "stale")
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestService_DisabledWithoutRetention(t *testing.T) {
	st := setupStore(t)

	svc := NewService(st, 0, time.Hour)
	svc.Start(context.Background())
	svc.Stop() // no-op: never started

	assert.Nil(t, svc.cancel)
}
