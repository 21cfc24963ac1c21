package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/harun/agentrelay/pkg/session"
	"go.opentelemetry.io/otel/attribute"
)

// SessionRecord is the persisted projection of a session: its configuration
// and mirrored run status.
type SessionRecord struct {
	ID        string
	CreatedAt time.Time
	Status    string
	Options   session.Options
}

const sessionColumns = `id, created_at, provider, model, tool_version, system_prompt_suffix,
	only_n_most_recent_images, output_tokens, thinking_enabled, thinking_budget,
	token_efficient_tools, status`

// CreateOrReplaceSession writes the session row. An existing row keeps its
// messages; only its configuration and status are replaced.
func (s *Store) CreateOrReplaceSession(ctx context.Context, rec SessionRecord) error {
	ctx, end := s.begin(ctx, "create_session", attribute.String("session_id", rec.ID))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	status := rec.Status
	if status == "" {
		status = session.StatusIdle
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	o := rec.Options
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			provider = excluded.provider,
			model = excluded.model,
			tool_version = excluded.tool_version,
			system_prompt_suffix = excluded.system_prompt_suffix,
			only_n_most_recent_images = excluded.only_n_most_recent_images,
			output_tokens = excluded.output_tokens,
			thinking_enabled = excluded.thinking_enabled,
			thinking_budget = excluded.thinking_budget,
			token_efficient_tools = excluded.token_efficient_tools,
			status = excluded.status`,
		rec.ID,
		formatTime(created),
		o.Provider,
		o.Model,
		o.ToolVersion,
		o.SystemPromptSuffix,
		nullableInt(o.OnlyNMostRecentImages),
		o.OutputTokens,
		boolToInt(o.ThinkingEnabled),
		nullableInt(o.ThinkingBudget),
		boolToInt(o.TokenEfficientTools),
		status,
	)
	return end(err)
}

// SetStatus mirrors the run state of a session. Updating a session that no
// longer exists is a no-op.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	ctx, end := s.begin(ctx, "set_status", attribute.String("session_id", id))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, "UPDATE sessions SET status = ? WHERE id = ?", status, id)
	return end(err)
}

// ResetRunning flips every session persisted as running back to idle and
// returns the ids that were reset. It is used once at startup, when no run
// can be in flight.
func (s *Store) ResetRunning(ctx context.Context) ([]string, error) {
	ctx, end := s.begin(ctx, "reset_running")

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, end(err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT id FROM sessions WHERE status = ? ORDER BY id", session.StatusRunning)
	if err != nil {
		return nil, end(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, end(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, end(err)
	}
	rows.Close()

	if len(ids) > 0 {
		if _, err := tx.ExecContext(ctx, "UPDATE sessions SET status = ? WHERE status = ?",
			session.StatusIdle, session.StatusRunning); err != nil {
			return nil, end(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, end(err)
	}
	return ids, end(nil)
}

// GetSession returns one session row
func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	ctx, end := s.begin(ctx, "get_session", attribute.String("session_id", id))

	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		_ = end(nil)
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, end(err)
	}
	return rec, end(nil)
}

// ListSessions returns every session row, newest first
func (s *Store) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	ctx, end := s.begin(ctx, "list_sessions")

	rows, err := s.db.QueryContext(ctx, "SELECT "+sessionColumns+" FROM sessions ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, end(err)
	}
	defer rows.Close()

	out := []SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, end(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, end(err)
	}
	return out, end(nil)
}

// DeleteSession removes a session and all of its messages in one
// transaction. Deleting an unknown id is not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	ctx, end := s.begin(ctx, "delete_session", attribute.String("session_id", id))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return end(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return end(err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return end(err)
	}
	return end(tx.Commit())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var (
		rec       SessionRecord
		created   string
		images    sql.NullInt64
		thinking  int
		budget    sql.NullInt64
		efficient int
	)
	err := row.Scan(
		&rec.ID,
		&created,
		&rec.Options.Provider,
		&rec.Options.Model,
		&rec.Options.ToolVersion,
		&rec.Options.SystemPromptSuffix,
		&images,
		&rec.Options.OutputTokens,
		&thinking,
		&budget,
		&efficient,
		&rec.Status,
	)
	if err != nil {
		return SessionRecord{}, err
	}

	rec.CreatedAt, err = parseTime(created)
	if err != nil {
		return SessionRecord{}, err
	}
	rec.Options.OnlyNMostRecentImages = intPtr(images)
	rec.Options.ThinkingEnabled = thinking != 0
	rec.Options.ThinkingBudget = intPtr(budget)
	rec.Options.TokenEfficientTools = efficient != 0
	return rec, nil
}
