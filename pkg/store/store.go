package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/agentrelay/internal/observability"
	"github.com/harun/agentrelay/internal/tracing"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "agentrelay.store"

// timeLayout is fixed width so that text ordering in SQL equals time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrStorage wraps every failure reported by the database
	ErrStorage = errors.New("storage fault")
	// ErrNotFound is returned by lookups of a single session row
	ErrNotFound = errors.New("session record not found")
)

// Config holds store configuration
type Config struct {
	Path   string
	Logger zerolog.Logger
}

// Store is the durable record of sessions and messages
type Store struct {
	db      *sql.DB
	path    string
	logger  zerolog.Logger
	writeMu sync.Mutex
	now     func() time.Time
}

// Open opens (creating if needed) the database at cfg.Path
func Open(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:     db,
		path:   cfg.Path,
		logger: cfg.Logger,
		now:    time.Now,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Msg("Session store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			tool_version TEXT NOT NULL,
			system_prompt_suffix TEXT NOT NULL,
			only_n_most_recent_images INTEGER,
			output_tokens INTEGER NOT NULL,
			thinking_enabled INTEGER NOT NULL,
			thinking_budget INTEGER,
			token_efficient_tools INTEGER NOT NULL,
			status TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// begin opens a span for op and returns a finisher that records metrics and
// wraps a non-nil error in ErrStorage.
func (s *Store) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error) error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "store."+op, attrs...)
	start := time.Now()

	return ctx, func(err error) error {
		defer span.End()
		observability.RecordStoreOp(op, time.Since(start), err)
		if err == nil {
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Error().Err(err).Str("operation", op).Msg("Store operation failed")
		return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(timeLayout, v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
