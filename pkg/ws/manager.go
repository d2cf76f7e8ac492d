// Package ws is the WebSocket frontend: one read loop per connection
// decoding command frames and routing them to the session hub.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/hub"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/store"
)

// ConnectionManager owns every live WebSocket client in this process.
type ConnectionManager struct {
	hub          *hub.Hub
	store        *store.Store
	idleTimeout  time.Duration
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]*client
}

// NewConnectionManager creates a ConnectionManager.
func NewConnectionManager(h *hub.Hub, st *store.Store, idleTimeout, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		hub:          h,
		store:        st,
		idleTimeout:  idleTimeout,
		writeTimeout: writeTimeout,
		clients:      make(map[string]*client),
	}
}

// ActiveClients returns the live connection count.
func (m *ConnectionManager) ActiveClients() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// HandleConnection manages one WebSocket connection's lifecycle. Called by
// the HTTP handler after upgrade; blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	c := newClient(parentCtx, uuid.New().String(), conn, m.writeTimeout)
	log := slog.With("client_id", c.id)

	m.register(c)
	defer m.unregister(c)

	go c.writeLoop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := m.store.RecordClientConnect(ctx, c.id, time.Now().UnixMilli()); err != nil {
		log.Warn("Failed to record client connect", "error", err)
	}
	cancel()

	if err := c.Send(hub.ConnectedFrame{
		Type:              hub.FrameConnected,
		Message:           "Connected to ccsdk-gateway",
		AvailableSessions: m.hub.List(),
	}); err != nil {
		return
	}

	log.Info("Client connected", "total", m.ActiveClients())

	// Read loop. Each read carries the idle timeout; any inbound frame
	// (including ping) resets it.
	for {
		readCtx, cancelRead := context.WithTimeout(c.ctx, m.idleTimeout)
		_, data, err := conn.Read(readCtx)
		cancelRead()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Info("Closing idle connection")
				_ = conn.Close(websocket.StatusGoingAway, "idle timeout")
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			m.sendError(c, "Invalid JSON message", "")
			continue
		}
		m.dispatch(c, &cmd)
	}
}

// dispatch routes one inbound command.
func (m *ConnectionManager) dispatch(c *client, cmd *clientCommand) {
	switch cmd.Type {
	case cmdChat:
		m.handleChat(c, cmd)

	case cmdSubscribe:
		s, ok := m.hub.Get(cmd.SessionID)
		if !ok {
			m.sendError(c, "Session not found", cmd.SessionID)
			return
		}
		if err := m.subscribeClient(c, s); err != nil {
			m.sendError(c, "Session not found", cmd.SessionID)
			return
		}
		_ = c.Send(hub.AckFrame{Type: hub.FrameSubscribed, SessionID: s.ID()})

	case cmdUnsubscribe:
		m.unsubscribeCurrent(c)
		_ = c.Send(hub.AckFrame{Type: hub.FrameUnsubscribed, SessionID: cmd.SessionID})

	case cmdCancel:
		// Unknown session: silent no-op.
		if s, ok := m.hub.Get(cmd.SessionID); ok {
			s.Cancel()
		}

	case cmdSystemInfo:
		_ = c.Send(systemInfoFrame{
			Type: cmdSystemInfo,
			Data: systemInfoData{
				Sessions:    m.hub.List(),
				ClientCount: m.ActiveClients(),
			},
		})

	case cmdPing:
		_ = c.Send(hub.PongFrame{Type: hub.FramePong})

	default:
		m.sendError(c, "Unknown message type", "")
	}
}

// handleChat resolves (or creates) the target session, auto-subscribes the
// sender, and submits the prompt.
func (m *ConnectionManager) handleChat(c *client, cmd *clientCommand) {
	if cmd.Content == "" {
		m.sendError(c, "Message content is required", cmd.SessionID)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()

	s, err := m.hub.GetOrCreate(ctx, cmd.SessionID)
	if err != nil {
		slog.Error("Failed to resolve session", "client_id", c.id, "error", err)
		m.sendError(c, "Failed to resolve session", cmd.SessionID)
		return
	}

	if c.currentSession() != s.ID() {
		if err := m.subscribeClient(c, s); err != nil {
			m.sendError(c, "Failed to subscribe to session", s.ID())
			return
		}
	}

	if cmd.NewConversation {
		s.EndConversation()
	}

	switch err := s.Submit(cmd.Content); {
	case err == nil:
	case errors.Is(err, hub.ErrBackpressure):
		m.sendError(c, "Too many queued messages, try again shortly", s.ID())
	case errors.Is(err, hub.ErrSessionGone):
		m.sendError(c, "Session no longer available", s.ID())
	default:
		slog.Error("Submit failed", "client_id", c.id, "session_id", s.ID(), "error", err)
		m.sendError(c, "Failed to submit message", s.ID())
	}
}

// subscribeClient binds the client to a session, detaching it from any
// prior one first: a client subscribes to at most one session at a time.
func (m *ConnectionManager) subscribeClient(c *client, s *hub.Session) error {
	if prev := c.currentSession(); prev != "" && prev != s.ID() {
		if prevSession, ok := m.hub.Get(prev); ok {
			prevSession.Unsubscribe(c.id)
		}
	}

	if err := s.Subscribe(c); err != nil {
		c.setSession("")
		return err
	}
	c.setSession(s.ID())
	m.hub.CancelIdleCheck(s.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SetClientSession(ctx, c.id, s.ID()); err != nil {
		slog.Warn("Failed to record client subscription", "client_id", c.id, "error", err)
	}
	return nil
}

// unsubscribeCurrent detaches the client from its session, if any.
func (m *ConnectionManager) unsubscribeCurrent(c *client) {
	prev := c.setSession("")
	if prev == "" {
		return
	}
	if s, ok := m.hub.Get(prev); ok {
		s.Unsubscribe(c.id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SetClientSession(ctx, c.id, ""); err != nil {
		slog.Warn("Failed to clear client subscription", "client_id", c.id, "error", err)
	}
}

func (m *ConnectionManager) sendError(c *client, message, sessionID string) {
	_ = c.Send(hub.ErrorFrame{Type: hub.FrameError, Error: message, SessionID: sessionID})
}

func (m *ConnectionManager) register(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.id] = c
}

// unregister tears a client down: detach from its session (beginning
// reclamation eligibility), stamp the disconnect, and close the socket.
func (m *ConnectionManager) unregister(c *client) {
	m.mu.Lock()
	delete(m.clients, c.id)
	m.mu.Unlock()

	m.unsubscribeCurrent(c)
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.RecordClientDisconnect(ctx, c.id, time.Now().UnixMilli()); err != nil {
		slog.Warn("Failed to record client disconnect", "client_id", c.id, "error", err)
	}

	slog.Info("Client disconnected", "client_id", c.id, "total", m.ActiveClients())
}
