package store

import (
	"context"
	"fmt"
)

// RecordClientConnect inserts a row for a newly attached WebSocket client.
func (s *Store) RecordClientConnect(ctx context.Context, clientID string, connectedAt int64) error {
	if clientID == "" {
		return NewValidationError("client_id", "required")
	}
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO clients (id, connected_at) VALUES (?, ?)`,
			clientID, connectedAt)
		if err != nil {
			return fmt.Errorf("recording client connect: %w", err)
		}
		return nil
	})
}

// RecordClientDisconnect stamps the client's disconnect time.
func (s *Store) RecordClientDisconnect(ctx context.Context, clientID string, disconnectedAt int64) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE clients SET disconnected_at = ? WHERE id = ?`,
			disconnectedAt, clientID)
		if err != nil {
			return fmt.Errorf("recording client disconnect: %w", err)
		}
		return nil
	})
}

// SetClientSession records which session the client is currently subscribed
// to; empty clears it.
func (s *Store) SetClientSession(ctx context.Context, clientID, sessionID string) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE clients SET current_session_id = ? WHERE id = ?`,
			nullableString(sessionID), clientID)
		if err != nil {
			return fmt.Errorf("setting client session: %w", err)
		}
		return nil
	})
}
