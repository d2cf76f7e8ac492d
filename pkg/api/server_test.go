package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/config"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/database"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/engine"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/hub"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/store"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/ws"
)

type testEnv struct {
	server *httptest.Server
	store  *store.Store
	hub    *hub.Hub
	cfg    *config.Config
}

func setupServer(t *testing.T, eng engine.Streamer) *testEnv {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := config.DefaultConfig()
	cfg.Engine.CWD = t.TempDir()
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "api.db")

	client, err := database.NewClient(ctx, cfg.Store.DBPath)
	require.NoError(t, err)

	st := store.New(client.DB())
	h := hub.New(st, eng, cfg.Engine, cfg.Hub)
	connManager := ws.NewConnectionManager(h, st, cfg.Server.WSIdleTimeout, cfg.Server.WSWriteTimeout)

	s := NewServer(cfg, client, st, h, connManager, eng)
	server := httptest.NewServer(s.echo)

	t.Cleanup(func() {
		server.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = h.Shutdown(shutdownCtx)
		_ = client.Close()
	})
	return &testEnv{server: server, store: st, hub: h, cfg: cfg}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	env := setupServer(t, &engine.StubStreamer{})

	var health HealthResponse
	code := getJSON(t, env.server.URL+"/api/ccsdk/health", &health)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.Database.Connected)
	assert.NotZero(t, health.Timestamp)
}

func TestConfig(t *testing.T) {
	env := setupServer(t, &engine.StubStreamer{})

	var cfg ConfigResponse
	code := getJSON(t, env.server.URL+"/api/ccsdk/config", &cfg)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "sonnet", cfg.Model)
	assert.Equal(t, 100, cfg.MaxTurns)
	assert.Equal(t, "default", cfg.PermissionMode)
}

func TestLiveSessions(t *testing.T) {
	env := setupServer(t, &engine.StubStreamer{})

	_, err := env.hub.GetOrCreate(context.Background(), "live-1")
	require.NoError(t, err)

	var resp LiveSessionsResponse
	code := getJSON(t, env.server.URL+"/api/ccsdk/sessions", &resp)
	assert.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "live-1", resp.Sessions[0].ID)
}

func TestQuery(t *testing.T) {
	eng := &engine.StubStreamer{Script: []engine.Event{
		{Kind: engine.EventAssistant, Text: "computed"},
		{Kind: engine.EventResult, Subtype: "success", Success: true, ResultText: "computed", CostUSD: 0.02, DurationMS: 100},
	}}
	env := setupServer(t, eng)

	var resp QueryResponse
	code := postJSON(t, env.server.URL+"/api/ccsdk/query", map[string]any{"prompt": "2+2?"}, &resp)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, "computed", resp.Result)
	require.NotNil(t, resp.Cost)
	assert.InDelta(t, 0.02, *resp.Cost, 1e-9)

	calls := eng.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "2+2?", calls[0].Prompt)
	assert.Empty(t, calls[0].Opts.ResumeToken, "one-shot queries never resume")
}

func TestQuery_MissingPrompt(t *testing.T) {
	env := setupServer(t, &engine.StubStreamer{})
	code := postJSON(t, env.server.URL+"/api/ccsdk/query", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestQuery_EngineFailure(t *testing.T) {
	eng := &engine.StubStreamer{FinishErr: &engine.EngineError{Message: "boom"}}
	env := setupServer(t, eng)

	var resp QueryResponse
	code := postJSON(t, env.server.URL+"/api/ccsdk/query", map[string]any{"prompt": "x"}, &resp)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "boom")
}

func seedSession(t *testing.T, env *testEnv, id string, messages int) {
	t.Helper()
	ctx := context.Background()
	_, err := env.store.CreateSession(ctx, id, time.Now().UnixMilli(), nil)
	require.NoError(t, err)
	for i := 0; i < messages; i++ {
		_, err := env.store.AppendMessage(ctx, &store.Message{
			SessionID: id,
			Type:      store.MessageTypeAssistant,
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: time.Now().UnixMilli() + int64(i),
		})
		require.NoError(t, err)
	}
}

func TestDBSessions(t *testing.T) {
	env := setupServer(t, &engine.StubStreamer{})
	seedSession(t, env, "db-1", 2)

	var list SessionsResponse
	code := getJSON(t, env.server.URL+"/api/ccsdk/db/sessions?limit=10", &list)
	assert.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, list.Count)

	var one store.Session
	code = getJSON(t, env.server.URL+"/api/ccsdk/db/sessions/db-1", &one)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, one.MessageCount)

	code = getJSON(t, env.server.URL+"/api/ccsdk/db/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code = getJSON(t, env.server.URL+"/api/ccsdk/db/sessions?limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDBActiveSessions(t *testing.T) {
	env := setupServer(t, &engine.StubStreamer{})
	seedSession(t, env, "active-1", 0)

	var list SessionsResponse
	code := getJSON(t, env.server.URL+"/api/ccsdk/db/sessions/active", &list)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, list.Count, "freshly created sessions are active")
}

func TestDBMessages(t *testing.T) {
	env := setupServer(t, &engine.StubStreamer{})
	seedSession(t, env, "db-1", 3)

	var msgs MessagesResponse
	code := getJSON(t, env.server.URL+"/api/ccsdk/db/sessions/db-1/messages", &msgs)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, msgs.Count)

	// Unknown session returns an empty list, not an error.
	code = getJSON(t, env.server.URL+"/api/ccsdk/db/sessions/ghost/messages", &msgs)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, msgs.Count)
	assert.NotNil(t, msgs.Messages)
}

func TestDBDelete_Cascades(t *testing.T) {
	env := setupServer(t, &engine.StubStreamer{})
	seedSession(t, env, "doomed", 10)

	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/api/ccsdk/db/sessions/doomed", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var del DeleteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&del))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, del.Success)

	var msgs MessagesResponse
	code := getJSON(t, env.server.URL+"/api/ccsdk/db/sessions/doomed/messages", &msgs)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, msgs.Count)
}

func TestDBStats(t *testing.T) {
	env := setupServer(t, &engine.StubStreamer{})
	seedSession(t, env, "db-1", 2)

	var stats store.Stats
	code := getJSON(t, env.server.URL+"/api/ccsdk/db/stats", &stats)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), stats.TotalSessions)
	assert.Equal(t, int64(2), stats.TotalMessages)
}

func TestDBSearch(t *testing.T) {
	env := setupServer(t, &engine.StubStreamer{})
	seedSession(t, env, "db-1", 3)

	var msgs MessagesResponse
	code := getJSON(t, env.server.URL+"/api/ccsdk/db/search?q=message+1", &msgs)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, msgs.Count)

	code = getJSON(t, env.server.URL+"/api/ccsdk/db/search", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDBCleanup(t *testing.T) {
	env := setupServer(t, &engine.StubStreamer{})

	old := time.Now().AddDate(0, 0, -90).UnixMilli()
	_, err := env.store.CreateSession(context.Background(), "ancient", old, nil)
	require.NoError(t, err)
	inactive := false
	require.NoError(t, env.store.UpdateSession(context.Background(), "ancient",
		store.SessionPatch{IsActive: &inactive, LastActivity: &old}))

	var resp CleanupResponse
	code := postJSON(t, env.server.URL+"/api/ccsdk/db/cleanup", map[string]any{"days": 30}, &resp)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), resp.Deleted)
}

func TestDBBackup(t *testing.T) {
	env := setupServer(t, &engine.StubStreamer{})
	dest := filepath.Join(t.TempDir(), "snapshot.db")

	var resp BackupResponse
	code := postJSON(t, env.server.URL+"/api/ccsdk/db/backup", map[string]any{"path": dest}, &resp)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, dest, resp.Path)

	_, err := os.Stat(dest)
	assert.NoError(t, err, "backup file should exist")
}
