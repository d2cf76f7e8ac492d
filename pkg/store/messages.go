package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Message is one persisted event within a session.
type Message struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId"`
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	Content   string          `json:"content,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Cost      *float64        `json:"cost,omitempty"`
	Duration  *int64          `json:"duration,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Valid message types.
const (
	MessageTypeUser       = "user"
	MessageTypeAssistant  = "assistant"
	MessageTypeSystem     = "system"
	MessageTypeToolUse    = "tool_use"
	MessageTypeToolResult = "tool_result"
	MessageTypeResult     = "result"
	MessageTypeError      = "error"
)

var messageTypes = map[string]bool{
	MessageTypeUser:       true,
	MessageTypeAssistant:  true,
	MessageTypeSystem:     true,
	MessageTypeToolUse:    true,
	MessageTypeToolResult: true,
	MessageTypeResult:     true,
	MessageTypeError:      true,
}

const messageColumns = `id, session_id, type, subtype, content, timestamp, cost, duration, metadata`

// AppendMessage inserts a message and bumps the parent session's
// message_count and last_activity in the same transaction, keeping the
// count consistent with the row total at all times.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) (int64, error) {
	if msg.SessionID == "" {
		return 0, NewValidationError("session_id", "required")
	}
	if !messageTypes[msg.Type] {
		return 0, NewValidationError("type", fmt.Sprintf("unknown message type %q", msg.Type))
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = nowMillis()
	}

	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, type, subtype, content, timestamp, cost, duration, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.SessionID, msg.Type, nullableString(msg.Subtype), nullableString(msg.Content),
			msg.Timestamp, msg.Cost, msg.Duration, nullableJSON(msg.Metadata))
		if err != nil {
			// The session_id foreign key rejects rows for unknown sessions
			// before the counter update below can report it.
			if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
				return ErrNotFound
			}
			return fmt.Errorf("inserting message: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}

		upd, err := tx.ExecContext(ctx,
			`UPDATE sessions SET message_count = message_count + 1, last_activity = ? WHERE id = ?`,
			msg.Timestamp, msg.SessionID)
		if err != nil {
			return fmt.Errorf("updating session counters: %w", err)
		}
		n, err := upd.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	msg.ID = id
	return id, nil
}

// ListMessages returns a session's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE session_id = ? ORDER BY timestamp ASC, id ASC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// SearchMessages finds messages whose content contains the query substring,
// newest first. The join filters out rows orphaned mid-delete.
func (s *Store) SearchMessages(ctx context.Context, query string, limit int) ([]*Message, error) {
	if query == "" {
		return nil, NewValidationError("query", "required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.session_id, m.type, m.subtype, m.content, m.timestamp, m.cost, m.duration, m.metadata
		 FROM messages m JOIN sessions s ON s.id = m.session_id
		 WHERE m.content LIKE ? ESCAPE '\'
		 ORDER BY m.timestamp DESC LIMIT ?`,
		"%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	messages := make([]*Message, 0)
	for rows.Next() {
		var (
			msg      Message
			subtype  sql.NullString
			content  sql.NullString
			cost     sql.NullFloat64
			duration sql.NullInt64
			metadata sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Type, &subtype, &content,
			&msg.Timestamp, &cost, &duration, &metadata); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.Subtype = subtype.String
		msg.Content = content.String
		if cost.Valid {
			msg.Cost = &cost.Float64
		}
		if duration.Valid {
			msg.Duration = &duration.Int64
		}
		if metadata.Valid {
			msg.Metadata = json.RawMessage(metadata.String)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// escapeLike escapes LIKE metacharacters so user queries match literally.
func escapeLike(q string) string {
	out := make([]byte, 0, len(q))
	for i := 0; i < len(q); i++ {
		switch q[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, q[i])
	}
	return string(out)
}
