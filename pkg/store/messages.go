package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/agentrelay/pkg/session"
	"go.opentelemetry.io/otel/attribute"
)

// Message is one persisted turn
type Message struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"-"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// AppendMessage persists one turn and returns its id. content is encoded
// as JSON; a json.RawMessage is stored as is.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role string, content any) (int64, error) {
	ctx, end := s.begin(ctx, "append_message",
		attribute.String("session_id", sessionID),
		attribute.String("role", role),
	)

	payload, err := json.Marshal(content)
	if err != nil {
		return 0, end(err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (session_id, role, content_json, created_at) VALUES (?, ?, ?, ?)",
		sessionID, role, string(payload), formatTime(s.now()),
	)
	if err != nil {
		return 0, end(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, end(err)
	}
	return id, end(nil)
}

// AppendRun writes the turns produced by one agent run in a single
// transaction. The session's last pending rows, turns posted while the run
// was in flight, are moved after the run's turns so that stored order matches
// the conversation the agent continued. Moved rows get new ids and keep
// their timestamps. Either everything is written or nothing is.
func (s *Store) AppendRun(ctx context.Context, sessionID string, turns []session.Turn, pending int) error {
	ctx, end := s.begin(ctx, "append_run",
		attribute.String("session_id", sessionID),
		attribute.Int("turns", len(turns)),
		attribute.Int("pending", pending),
	)

	if len(turns) == 0 {
		return end(nil)
	}

	payloads := make([]string, len(turns))
	for i, turn := range turns {
		data, err := json.Marshal(turn.Content)
		if err != nil {
			return end(err)
		}
		payloads[i] = string(data)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return end(err)
	}
	defer tx.Rollback()

	type pendingRow struct {
		id      int64
		role    string
		content string
		created string
	}
	var moved []pendingRow
	if pending > 0 {
		rows, err := tx.QueryContext(ctx,
			"SELECT id, role, content_json, created_at FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?",
			sessionID, pending,
		)
		if err != nil {
			return end(err)
		}
		for rows.Next() {
			var r pendingRow
			if err := rows.Scan(&r.id, &r.role, &r.content, &r.created); err != nil {
				rows.Close()
				return end(err)
			}
			moved = append(moved, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return end(err)
		}
		rows.Close()

		if len(moved) != pending {
			return end(fmt.Errorf("expected %d pending messages, found %d", pending, len(moved)))
		}
		// oldest first
		for i, j := 0, len(moved)-1; i < j; i, j = i+1, j-1 {
			moved[i], moved[j] = moved[j], moved[i]
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ? AND id >= ?",
			sessionID, moved[0].id); err != nil {
			return end(err)
		}
	}

	const insert = "INSERT INTO messages (session_id, role, content_json, created_at) VALUES (?, ?, ?, ?)"
	now := formatTime(s.now())
	for i, turn := range turns {
		if _, err := tx.ExecContext(ctx, insert, sessionID, string(turn.Role), payloads[i], now); err != nil {
			return end(err)
		}
	}
	for _, r := range moved {
		if _, err := tx.ExecContext(ctx, insert, sessionID, r.role, r.content, r.created); err != nil {
			return end(err)
		}
	}

	return end(tx.Commit())
}

// ListMessages returns the messages of a session in append order
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	ctx, end := s.begin(ctx, "list_messages", attribute.String("session_id", sessionID))

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, role, content_json, created_at FROM messages WHERE session_id = ? ORDER BY id ASC",
		sessionID,
	)
	if err != nil {
		return nil, end(err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m       Message
			content string
			created string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &content, &created); err != nil {
			return nil, end(err)
		}
		m.Content = json.RawMessage(content)
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, end(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, end(err)
	}
	return out, end(nil)
}

// CountMessages returns the number of persisted messages of a session
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	ctx, end := s.begin(ctx, "count_messages", attribute.String("session_id", sessionID))

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&n)
	if err != nil {
		return 0, end(err)
	}
	return n, end(nil)
}
