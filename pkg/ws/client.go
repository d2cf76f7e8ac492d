package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// sendBuffer is the per-client outbound queue depth. A client that falls
// this far behind the stream is dropped rather than stalling fan-out.
const sendBuffer = 64

var errClientGone = errors.New("ws: client disconnected")

// client is one attached WebSocket connection. It implements
// hub.Subscriber: Send enqueues into the bounded send buffer, and a
// dedicated writer goroutine drains it with a write timeout, so a slow
// client never blocks the session's turn runner.
type client struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc

	mu        sync.Mutex
	sessionID string
}

func newClient(parentCtx context.Context, id string, conn *websocket.Conn, writeTimeout time.Duration) *client {
	ctx, cancel := context.WithCancel(parentCtx)
	return &client{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// ID implements hub.Subscriber.
func (c *client) ID() string { return c.id }

// Send implements hub.Subscriber. It never blocks: a full buffer or a
// closed connection returns an error, which removes this client from the
// session's subscriber set.
func (c *client) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}
	if c.ctx.Err() != nil {
		return errClientGone
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("ws: send buffer full for client %s", c.id)
	}
}

// currentSession returns the session this client is subscribed to, if any.
func (c *client) currentSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// setSession records the subscription, returning the previous session id.
func (c *client) setSession(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.sessionID
	c.sessionID = sessionID
	return prev
}

// writeLoop drains the send buffer onto the wire. It exits when the client
// context ends; a write timeout also ends the client.
func (c *client) writeLoop() {
	defer c.cancel()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
