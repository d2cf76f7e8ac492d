// Package hub owns the in-memory session registry and the per-session state
// machines that serialize turns, fan out engine events to subscribers, and
// persist history.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/config"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/engine"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/store"
)

// Hub is the process-wide session registry. Creation for a given id is
// race-free: at most one Session exists per id at any time.
type Hub struct {
	store     *store.Store
	engine    engine.Streamer
	engineCfg config.EngineConfig
	idleGrace time.Duration
	queueCap  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
	timers   map[string]*time.Timer
	closed   bool
}

// New creates a Hub. Sessions spawn their turn runners under the hub's
// lifetime context; Shutdown cancels them all.
func New(st *store.Store, eng engine.Streamer, engineCfg config.EngineConfig, hubCfg config.HubConfig) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:     st,
		engine:    eng,
		engineCfg: engineCfg,
		idleGrace: hubCfg.IdleGrace,
		queueCap:  hubCfg.QueueCapacity,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
		timers:    make(map[string]*time.Timer),
	}
}

// GetOrCreate returns the in-memory session for id, creating and
// registering one when absent. An empty id gets a freshly generated one.
// A session whose id exists in the store but not in memory (reclaimed or
// from a prior process) is rehydrated from its row, so its resume token
// and counters survive.
func (h *Hub) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrSessionGone
	}
	if s, ok := h.sessions[id]; ok {
		return s, nil
	}

	row, err := h.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		row, err = h.store.CreateSession(ctx, id, time.Now().UnixMilli(), nil)
	}
	if err != nil {
		return nil, err
	}

	s := newSession(h.ctx, id, h.store, h.engine, h.engineCfg, h.queueCap, h.onSessionIdle, row)
	h.sessions[id] = s
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		s.run()
	}()

	slog.Info("Session registered", "session_id", id, "resumed", row.EngineSessionID != "")
	return s, nil
}

// Get looks up an in-memory session without creating one.
func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

// List snapshots every in-memory session.
func (h *Hub) List() []SessionInfo {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Len reports the number of in-memory sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CancelIdleCheck aborts a pending reclamation for id, if any. Called when
// a client subscribes during the grace window.
func (h *Hub) CancelIdleCheck(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if timer, ok := h.timers[id]; ok {
		timer.Stop()
		delete(h.timers, id)
	}
}

// onSessionIdle starts (or restarts) the reclamation grace timer for a
// session that has no subscribers and no turn in flight.
func (h *Hub) onSessionIdle(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if timer, ok := h.timers[id]; ok {
		timer.Stop()
	}
	h.timers[id] = time.AfterFunc(h.idleGrace, func() { h.reclaim(id) })
}

// reclaim removes a session whose grace period elapsed, re-checking
// eligibility first: a subscriber that attached or a turn that started
// during the window cancels reclamation.
func (h *Hub) reclaim(id string) {
	h.mu.Lock()
	delete(h.timers, id)
	s, ok := h.sessions[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	info := s.Info()
	if s.SubscriberCount() > 0 || info.IsActive {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, id)
	h.mu.Unlock()

	s.Cleanup()
	slog.Info("Session reclaimed", "session_id", id)
}

// Shutdown cancels every running turn, closes all queues, and waits for
// turn runners and in-flight persistence to drain, bounded by ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for id, timer := range h.timers {
		timer.Stop()
		delete(h.timers, id)
	}
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	// Cancel turns first so runners observe the abort promptly, then close
	// queues via Cleanup.
	h.cancel()
	for _, s := range sessions {
		s.Cleanup()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
