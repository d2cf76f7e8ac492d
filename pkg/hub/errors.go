package hub

import "errors"

// Sentinel errors for session and queue operations.
var (
	// ErrBackpressure means the prompt queue is full; the caller should
	// report it rather than wait.
	ErrBackpressure = errors.New("hub: prompt queue full")

	// ErrQueueClosed means the queue no longer accepts prompts.
	ErrQueueClosed = errors.New("hub: prompt queue closed")

	// ErrSessionGone means the session was reclaimed; callers should
	// resolve a fresh session through the hub.
	ErrSessionGone = errors.New("hub: session reclaimed")

	// ErrSessionNotFound means no in-memory session has the given id.
	ErrSessionNotFound = errors.New("hub: session not found")
)
