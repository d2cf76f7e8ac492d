package hub

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/config"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/database"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/engine"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/store"
)

// fakeSub is an in-memory Subscriber recording every frame it receives.
type fakeSub struct {
	id   string
	mu   sync.Mutex
	got  []any
	fail bool
}

func newFakeSub(id string) *fakeSub { return &fakeSub{id: id} }

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Send(frame any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send buffer full")
	}
	f.got = append(f.got, frame)
	return nil
}

func (f *fakeSub) frames() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.got))
	copy(out, f.got)
	return out
}

// frameType names a frame for order assertions.
func frameType(frame any) string {
	switch fr := frame.(type) {
	case ConnectedFrame:
		return fr.Type
	case SessionInfoFrame:
		return fr.Type
	case AckFrame:
		return fr.Type
	case AssistantMessageFrame:
		return fr.Type
	case ToolUseFrame:
		return fr.Type
	case ToolResultFrame:
		return fr.Type
	case SystemFrame:
		return fr.Type
	case ResultFrame:
		return fr.Type
	case CancelFrame:
		return fr.Type
	case ErrorFrame:
		return fr.Type
	default:
		return ""
	}
}

func (f *fakeSub) frameTypes() []string {
	frames := f.frames()
	types := make([]string, len(frames))
	for i, fr := range frames {
		types[i] = frameType(fr)
	}
	return types
}

func (f *fakeSub) hasFrame(typ string) bool {
	for _, got := range f.frameTypes() {
		if got == typ {
			return true
		}
	}
	return false
}

func (f *fakeSub) countFrames(typ string) int {
	n := 0
	for _, got := range f.frameTypes() {
		if got == typ {
			n++
		}
	}
	return n
}

// turnScript is a minimal successful turn: init, one text segment, result.
func turnScript() []engine.Event {
	return []engine.Event{
		{Kind: engine.EventSystem, Subtype: "init", EngineSessionID: "eng-1", Model: "sonnet", CWD: "/work"},
		{Kind: engine.EventAssistant, Text: "Hello!"},
		{Kind: engine.EventResult, Subtype: "success", Success: true, ResultText: "Hello!", CostUSD: 0.01, DurationMS: 42},
	}
}

func setupHub(t *testing.T, eng engine.Streamer, grace time.Duration) (*Hub, *store.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := database.NewClient(ctx, filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)

	st := store.New(client.DB())
	h := New(st, eng, config.EngineConfig{
		Model:          "sonnet",
		MaxTurns:       10,
		CWD:            "/work",
		PermissionMode: "default",
	}, config.HubConfig{IdleGrace: grace, QueueCapacity: 4})

	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = h.Shutdown(shutdownCtx)
		_ = client.Close()
	})
	return h, st
}

func TestHub_GetOrCreate(t *testing.T) {
	h, _ := setupHub(t, &engine.StubStreamer{Script: turnScript()}, time.Minute)
	ctx := context.Background()

	s1, err := h.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, s1.ID(), "empty id gets a generated one")

	s2, err := h.GetOrCreate(ctx, s1.ID())
	require.NoError(t, err)
	assert.Same(t, s1, s2, "same id resolves to the same instance")

	s3, err := h.GetOrCreate(ctx, "named")
	require.NoError(t, err)
	assert.Equal(t, "named", s3.ID())
	assert.Equal(t, 2, h.Len())
}

func TestHub_GetMissing(t *testing.T) {
	h, _ := setupHub(t, &engine.StubStreamer{}, time.Minute)
	_, ok := h.Get("nope")
	assert.False(t, ok)
}

func TestHub_List(t *testing.T) {
	h, _ := setupHub(t, &engine.StubStreamer{}, time.Minute)
	ctx := context.Background()

	_, err := h.GetOrCreate(ctx, "a")
	require.NoError(t, err)
	_, err = h.GetOrCreate(ctx, "b")
	require.NoError(t, err)

	infos := h.List()
	require.Len(t, infos, 2)
	ids := []string{infos[0].ID, infos[1].ID}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestHub_IdleReclamation(t *testing.T) {
	h, st := setupHub(t, &engine.StubStreamer{Script: turnScript()}, 50*time.Millisecond)
	ctx := context.Background()

	s, err := h.GetOrCreate(ctx, "reclaim-me")
	require.NoError(t, err)

	sub := newFakeSub("c1")
	require.NoError(t, s.Subscribe(sub))
	s.Unsubscribe(sub.ID())

	require.Eventually(t, func() bool {
		return h.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "idle session should be reclaimed after the grace period")

	// Persisted row survives reclamation.
	row, err := st.GetSession(ctx, "reclaim-me")
	require.NoError(t, err)
	assert.False(t, row.IsActive)

	// The reclaimed instance rejects further submissions.
	assert.ErrorIs(t, s.Submit("late"), ErrSessionGone)
}

func TestHub_ResubscribeCancelsReclamation(t *testing.T) {
	h, _ := setupHub(t, &engine.StubStreamer{}, 80*time.Millisecond)
	ctx := context.Background()

	s, err := h.GetOrCreate(ctx, "sticky")
	require.NoError(t, err)

	sub := newFakeSub("c1")
	require.NoError(t, s.Subscribe(sub))
	s.Unsubscribe(sub.ID())

	// Re-attach inside the grace window.
	require.NoError(t, s.Subscribe(sub))
	h.CancelIdleCheck("sticky")

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, h.Len(), "session with a live subscriber must not be reclaimed")
}

func TestHub_RehydratesReclaimedSession(t *testing.T) {
	eng := &engine.StubStreamer{Script: turnScript()}
	h, _ := setupHub(t, eng, 40*time.Millisecond)
	ctx := context.Background()

	s, err := h.GetOrCreate(ctx, "revive")
	require.NoError(t, err)
	sub := newFakeSub("c1")
	require.NoError(t, s.Subscribe(sub))
	require.NoError(t, s.Submit("first"))

	require.Eventually(t, func() bool {
		return sub.hasFrame(FrameResult)
	}, 2*time.Second, 10*time.Millisecond)

	s.Unsubscribe(sub.ID())
	require.Eventually(t, func() bool {
		return h.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Recreate from the persisted row: the engine resume token survives.
	revived, err := h.GetOrCreate(ctx, "revive")
	require.NoError(t, err)
	sub2 := newFakeSub("c2")
	require.NoError(t, revived.Subscribe(sub2))
	require.NoError(t, revived.Submit("second"))

	require.Eventually(t, func() bool {
		return len(eng.Calls()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "eng-1", eng.Calls()[1].Opts.ResumeToken)
}

func TestHub_Shutdown(t *testing.T) {
	eng := &engine.StubStreamer{
		Script: []engine.Event{{Kind: engine.EventSystem, Subtype: "init", EngineSessionID: "eng-1"}},
		Hold:   true,
	}
	h, _ := setupHub(t, eng, time.Minute)
	ctx := context.Background()

	s, err := h.GetOrCreate(ctx, "busy")
	require.NoError(t, err)
	sub := newFakeSub("c1")
	require.NoError(t, s.Subscribe(sub))
	require.NoError(t, s.Submit("work"))

	require.Eventually(t, func() bool {
		return sub.hasFrame(FrameSystem)
	}, 2*time.Second, 10*time.Millisecond, "turn should be mid-stream before shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(shutdownCtx))

	assert.ErrorIs(t, s.Submit("after"), ErrSessionGone)
	_, err = h.GetOrCreate(ctx, "new-after-shutdown")
	assert.ErrorIs(t, err, ErrSessionGone)
}
