package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/config"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/engine"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/store"
)

// storeTimeout bounds persistence writes issued from session internals.
// These use a background context so cancellation of a turn does not lose
// the terminal state write.
const storeTimeout = 10 * time.Second

// Subscriber is a send handle to an attached client. Send must not block:
// implementations enqueue into a bounded buffer and return an error when
// the client cannot keep up, which drops it from the subscriber set.
type Subscriber interface {
	ID() string
	Send(frame any) error
}

// Session is the per-conversation state machine. External callers only post
// inputs (enqueue a prompt, flip the abort signal, mutate the subscriber
// set); every other field mutation happens under mu or inside the single
// turn-runner goroutine.
type Session struct {
	id        string
	store     *store.Store
	engine    engine.Streamer
	engineCfg config.EngineConfig
	queue     *promptQueue
	baseCtx   context.Context

	// onIdle is invoked (outside mu) whenever the session becomes eligible
	// for reclamation: no subscribers and no turn in flight.
	onIdle func(sessionID string)

	mu          sync.Mutex
	subscribers map[string]Subscriber
	resumeToken string
	msgCount    int
	createdAt   int64
	lastActive  int64
	running     bool
	cancelTurn  context.CancelFunc
	gone        bool

	runnerDone chan struct{}
}

func newSession(baseCtx context.Context, id string, st *store.Store, eng engine.Streamer,
	engineCfg config.EngineConfig, queueCapacity int, onIdle func(string), row *store.Session) *Session {
	s := &Session{
		id:          id,
		store:       st,
		engine:      eng,
		engineCfg:   engineCfg,
		queue:       newPromptQueue(queueCapacity),
		baseCtx:     baseCtx,
		onIdle:      onIdle,
		subscribers: make(map[string]Subscriber),
		createdAt:   row.CreatedAt,
		lastActive:  row.LastActivity,
		msgCount:    row.MessageCount,
		resumeToken: row.EngineSessionID,
		runnerDone:  make(chan struct{}),
	}
	return s
}

// ID returns the session's stable identifier.
func (s *Session) ID() string { return s.id }

// Info returns a point-in-time snapshot for session_info frames and lists.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

// Submit appends a prompt to the queue and persists the user message. The
// turn runner picks it up immediately when idle, or after the current turn
// completes. Prompts from concurrent callers are ordered by arrival here.
func (s *Session) Submit(prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gone {
		return ErrSessionGone
	}
	if s.queue.full() {
		return ErrBackpressure
	}

	now := time.Now().UnixMilli()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if _, err := s.store.AppendMessage(ctx, &store.Message{
		SessionID: s.id,
		Type:      store.MessageTypeUser,
		Content:   prompt,
		Timestamp: now,
	}); err != nil {
		slog.Error("Failed to persist user message", "session_id", s.id, "error", err)
	} else {
		s.msgCount++
	}
	s.lastActive = now

	active := true
	if err := s.store.UpdateSession(ctx, s.id, store.SessionPatch{IsActive: &active, LastActivity: &now}); err != nil {
		slog.Warn("Failed to mark session active", "session_id", s.id, "error", err)
	}

	// Cannot fail with backpressure: producers are serialized by s.mu and
	// the capacity check above, and only the runner consumes.
	return s.queue.enqueue(prompt)
}

// Subscribe adds a client to the subscriber set and sends it a session_info
// snapshot. Idempotent for an already-subscribed client.
func (s *Session) Subscribe(sub Subscriber) error {
	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return ErrSessionGone
	}
	s.subscribers[sub.ID()] = sub
	info := s.infoLocked()
	s.mu.Unlock()

	if err := sub.Send(SessionInfoFrame{Type: FrameSessionInfo, Data: info}); err != nil {
		slog.Warn("Dropping subscriber on snapshot send",
			"session_id", s.id, "client_id", sub.ID(), "error", err)
		s.Unsubscribe(sub.ID())
		return err
	}
	return nil
}

// Unsubscribe removes a client. When the last subscriber leaves an idle
// session, reclamation eligibility begins.
func (s *Session) Unsubscribe(clientID string) {
	s.mu.Lock()
	delete(s.subscribers, clientID)
	idle := len(s.subscribers) == 0 && !s.running && !s.gone
	s.mu.Unlock()

	if idle && s.onIdle != nil {
		s.onIdle(s.id)
	}
}

// SubscriberCount reports the current subscriber set size.
func (s *Session) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Cancel signals the in-flight turn to abort. No-op when idle.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancelTurn
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	s.broadcast(CancelFrame{Type: FrameCancelling, SessionID: s.id, Message: "Cancelling current operation"})
	cancel()
}

// EndConversation aborts any running turn and clears the in-memory resume
// token and counter so the next submit starts a fresh engine conversation.
// Persisted history is untouched.
func (s *Session) EndConversation() {
	s.mu.Lock()
	cancel := s.cancelTurn
	s.resumeToken = ""
	s.msgCount = 0
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, cancelCtx := context.WithTimeout(context.Background(), storeTimeout)
	defer cancelCtx()
	active := false
	if err := s.store.UpdateSession(ctx, s.id, store.SessionPatch{IsActive: &active}); err != nil {
		slog.Warn("Failed to persist conversation end", "session_id", s.id, "error", err)
	}
}

// Cleanup tears the session down: aborts a running turn, closes the queue
// (ending the runner), clears subscribers, and persists the inactive state.
// Submissions afterwards fail with ErrSessionGone.
func (s *Session) Cleanup() {
	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return
	}
	s.gone = true
	cancel := s.cancelTurn
	s.subscribers = make(map[string]Subscriber)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.queue.close()

	ctx, cancelCtx := context.WithTimeout(context.Background(), storeTimeout)
	defer cancelCtx()
	active := false
	now := time.Now().UnixMilli()
	if err := s.store.UpdateSession(ctx, s.id, store.SessionPatch{IsActive: &active, LastActivity: &now}); err != nil {
		slog.Warn("Failed to persist session cleanup", "session_id", s.id, "error", err)
	}
}

// Done is closed when the turn runner has exited.
func (s *Session) Done() <-chan struct{} { return s.runnerDone }

// run is the turn-runner loop: the queue is its sole input. It exits when
// the queue closes.
func (s *Session) run() {
	defer close(s.runnerDone)
	for prompt := range s.queue.drain() {
		s.runTurn(prompt)
	}
}

// runTurn executes one prompt → engine stream → terminal event round.
func (s *Session) runTurn(prompt string) {
	turnCtx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	s.mu.Lock()
	s.running = true
	s.cancelTurn = cancel
	opts := engine.StreamOptions{
		ResumeToken:        s.resumeToken,
		Model:              s.engineCfg.Model,
		MaxTurns:           s.engineCfg.MaxTurns,
		CWD:                s.engineCfg.CWD,
		AllowedTools:       s.engineCfg.AllowedTools,
		SystemPromptSuffix: s.engineCfg.SystemPromptSuffix,
		PermissionMode:     s.engineCfg.PermissionMode,
	}
	s.mu.Unlock()

	log := slog.With("session_id", s.id)
	log.Info("Turn started", "resumed", opts.ResumeToken != "")

	stream, err := s.engine.Stream(turnCtx, prompt, opts)
	if err != nil {
		log.Error("Engine failed to start turn", "error", err)
		s.persistEvent(&store.Message{
			SessionID: s.id,
			Type:      store.MessageTypeError,
			Content:   err.Error(),
		})
		s.broadcast(ErrorFrame{Type: FrameError, Error: err.Error(), SessionID: s.id})
		s.finishTurn()
		return
	}

	for ev := range stream.Events() {
		s.handleEvent(ev)
	}

	switch streamErr := stream.Err(); {
	case streamErr == nil:
		log.Info("Turn completed")
	case errors.Is(streamErr, engine.ErrCancelled):
		log.Info("Turn cancelled")
		s.broadcast(CancelFrame{Type: FrameCancelled, SessionID: s.id, Message: "Operation cancelled"})
	default:
		log.Error("Turn failed", "error", streamErr)
		s.persistEvent(&store.Message{
			SessionID: s.id,
			Type:      store.MessageTypeError,
			Content:   streamErr.Error(),
		})
		s.broadcast(ErrorFrame{Type: FrameError, Error: streamErr.Error(), SessionID: s.id})
	}

	s.finishTurn()
}

// handleEvent maps one engine event to its wire frame, persists it, and
// fans it out — in that order. A persistence failure is logged and never
// blocks delivery.
func (s *Session) handleEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventSystem:
		if ev.Subtype == "init" && ev.EngineSessionID != "" {
			s.captureResumeToken(ev.EngineSessionID)
		}
		data := SystemInitData{
			Model:          ev.Model,
			CWD:            ev.CWD,
			Tools:          ev.Tools,
			MCPServers:     ev.MCPServers,
			PermissionMode: ev.PermissionMode,
		}
		meta, _ := json.Marshal(data)
		s.persistEvent(&store.Message{
			SessionID: s.id,
			Type:      store.MessageTypeSystem,
			Subtype:   ev.Subtype,
			Metadata:  meta,
		})
		s.broadcast(SystemFrame{Type: FrameSystem, Subtype: ev.Subtype, SessionID: s.id, Data: data})

	case engine.EventAssistant:
		s.persistEvent(&store.Message{
			SessionID: s.id,
			Type:      store.MessageTypeAssistant,
			Subtype:   "text",
			Content:   ev.Text,
		})
		s.broadcast(AssistantMessageFrame{Type: FrameAssistantMessage, Content: ev.Text, SessionID: s.id})

	case engine.EventUser:
		// Engine echo of the submitted prompt: the user row was already
		// persisted at submit time, so the echo is absorbed here.

	case engine.EventToolUse:
		s.persistEvent(&store.Message{
			SessionID: s.id,
			Type:      store.MessageTypeToolUse,
			Subtype:   ev.ToolName,
			Content:   string(ev.ToolInput),
		})
		s.broadcast(ToolUseFrame{
			Type: FrameToolUse, ToolName: ev.ToolName, ToolID: ev.ToolID,
			ToolInput: ev.ToolInput, SessionID: s.id,
		})

	case engine.EventToolResult:
		meta, _ := json.Marshal(map[string]any{"toolUseId": ev.ToolUseID, "isError": ev.IsError})
		s.persistEvent(&store.Message{
			SessionID: s.id,
			Type:      store.MessageTypeToolResult,
			Content:   ev.Content,
			Metadata:  meta,
		})
		s.broadcast(ToolResultFrame{
			Type: FrameToolResult, ToolUseID: ev.ToolUseID, Content: ev.Content,
			IsError: ev.IsError, SessionID: s.id,
		})

	case engine.EventResult:
		cost := ev.CostUSD
		duration := ev.DurationMS
		s.persistEvent(&store.Message{
			SessionID: s.id,
			Type:      store.MessageTypeResult,
			Subtype:   ev.Subtype,
			Content:   ev.ResultText,
			Cost:      &cost,
			Duration:  &duration,
		})
		frame := ResultFrame{
			Type: FrameResult, Success: ev.Success, Result: ev.ResultText,
			Cost: &cost, Duration: &duration, SessionID: s.id,
		}
		if !ev.Success {
			frame.Error = ev.Subtype
		}
		s.broadcast(frame)

	default:
		slog.Warn("Skipping unknown engine event", "session_id", s.id, "kind", ev.Kind)
	}
}

// captureResumeToken stores the engine's conversation token in memory and
// on the session row so later turns resume the same conversation.
func (s *Session) captureResumeToken(token string) {
	s.mu.Lock()
	s.resumeToken = token
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.UpdateSession(ctx, s.id, store.SessionPatch{EngineSessionID: &token}); err != nil {
		slog.Warn("Failed to persist engine session id", "session_id", s.id, "error", err)
	}
}

// persistEvent appends a message row, tolerating store failures: the stream
// to subscribers continues even when history falls behind.
func (s *Session) persistEvent(msg *store.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	msg.Timestamp = time.Now().UnixMilli()
	if _, err := s.store.AppendMessage(ctx, msg); err != nil {
		slog.Error("Failed to persist message",
			"session_id", s.id, "type", msg.Type, "error", err)
		return
	}

	s.mu.Lock()
	s.msgCount++
	s.lastActive = msg.Timestamp
	s.mu.Unlock()
}

// broadcast fans a frame out to every current subscriber. The set is
// snapshotted under the lock and sends happen outside it; a subscriber
// whose send fails is removed without affecting the others.
func (s *Session) broadcast(frame any) {
	s.mu.Lock()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Send(frame); err != nil {
			slog.Warn("Dropping slow subscriber",
				"session_id", s.id, "client_id", sub.ID(), "error", err)
			s.Unsubscribe(sub.ID())
		}
	}
}

// finishTurn transitions back to idle and persists the terminal state.
func (s *Session) finishTurn() {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	s.running = false
	s.cancelTurn = nil
	s.lastActive = now
	idle := len(s.subscribers) == 0 && !s.gone && len(s.queue.drain()) == 0
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	active := false
	if err := s.store.UpdateSession(ctx, s.id, store.SessionPatch{IsActive: &active, LastActivity: &now}); err != nil {
		slog.Warn("Failed to persist idle state", "session_id", s.id, "error", err)
	}

	if idle && s.onIdle != nil {
		s.onIdle(s.id)
	}
}

// infoLocked builds a snapshot; callers hold s.mu.
func (s *Session) infoLocked() SessionInfo {
	return SessionInfo{
		ID:           s.id,
		MessageCount: s.msgCount,
		IsActive:     s.running,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActive,
	}
}
