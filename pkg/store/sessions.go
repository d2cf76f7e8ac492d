package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Session is the durable record of one conversation.
type Session struct {
	ID              string          `json:"id"`
	EngineSessionID string          `json:"engineSessionId,omitempty"`
	CreatedAt       int64           `json:"createdAt"`
	LastActivity    int64           `json:"lastActivity"`
	MessageCount    int             `json:"messageCount"`
	IsActive        bool            `json:"isActive"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// SessionPatch is a partial update; nil fields are left unchanged.
type SessionPatch struct {
	EngineSessionID *string
	LastActivity    *int64
	MessageCount    *int
	IsActive        *bool
	Metadata        json.RawMessage
}

const sessionColumns = `id, engine_session_id, created_at, last_activity, message_count, is_active, metadata`

// CreateSession inserts a new session row marked active with zero messages.
func (s *Store) CreateSession(ctx context.Context, id string, createdAt int64, metadata json.RawMessage) (*Session, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}

	sess := &Session{
		ID:           id,
		CreatedAt:    createdAt,
		LastActivity: createdAt,
		IsActive:     true,
		Metadata:     metadata,
	}

	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, created_at, last_activity, message_count, is_active, metadata)
			 VALUES (?, ?, ?, 0, 1, ?)`,
			id, createdAt, createdAt, nullableJSON(metadata))
		return err
	})
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// UpdateSession applies a partial update to a session row.
func (s *Store) UpdateSession(ctx context.Context, id string, patch SessionPatch) error {
	var (
		sets []string
		args []any
	)
	if patch.EngineSessionID != nil {
		sets = append(sets, "engine_session_id = ?")
		args = append(args, *patch.EngineSessionID)
	}
	if patch.LastActivity != nil {
		sets = append(sets, "last_activity = ?")
		args = append(args, *patch.LastActivity)
	}
	if patch.MessageCount != nil {
		sets = append(sets, "message_count = ?")
		args = append(args, *patch.MessageCount)
	}
	if patch.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolToInt(*patch.IsActive))
	}
	if patch.Metadata != nil {
		sets = append(sets, "metadata = ?")
		args = append(args, string(patch.Metadata))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return fmt.Errorf("updating session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessions returns persisted sessions ordered by most recent activity.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY last_activity DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListActiveSessions returns sessions whose is_active flag is set. Rows are
// created active, so a new session is listed until a turn ends or the
// session is ended or cleaned up.
func (s *Store) ListActiveSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE is_active = 1 ORDER BY last_activity DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing active sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// DeleteSession removes a session row; messages cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CleanupOldSessions deletes inactive sessions whose last activity is older
// than the cutoff. Returns the number of sessions removed.
func (s *Store) CleanupOldSessions(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, NewValidationError("days", "must be positive")
	}
	cutoff := nowMillis() - int64(days)*24*60*60*1000

	var deleted int64
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE is_active = 0 AND last_activity < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("cleaning up sessions: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

func scanSession(row *sql.Row) (*Session, error) {
	var (
		sess     Session
		engineID sql.NullString
		active   int
		metadata sql.NullString
	)
	err := row.Scan(&sess.ID, &engineID, &sess.CreatedAt, &sess.LastActivity,
		&sess.MessageCount, &active, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.EngineSessionID = engineID.String
	sess.IsActive = active != 0
	if metadata.Valid {
		sess.Metadata = json.RawMessage(metadata.String)
	}
	return &sess, nil
}

func collectSessions(rows *sql.Rows) ([]*Session, error) {
	sessions := make([]*Session, 0)
	for rows.Next() {
		var (
			sess     Session
			engineID sql.NullString
			active   int
			metadata sql.NullString
		)
		if err := rows.Scan(&sess.ID, &engineID, &sess.CreatedAt, &sess.LastActivity,
			&sess.MessageCount, &active, &metadata); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sess.EngineSessionID = engineID.String
		sess.IsActive = active != 0
		if metadata.Valid {
			sess.Metadata = json.RawMessage(metadata.String)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isConstraintViolation reports whether err is a primary key / unique
// constraint failure.
func isConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint")
}
