package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agentrelay/internal/observability"
	"github.com/harun/agentrelay/internal/tracing"
	"github.com/harun/agentrelay/pkg/agent"
	"github.com/harun/agentrelay/pkg/fanout"
	"github.com/harun/agentrelay/pkg/runner"
	"github.com/harun/agentrelay/pkg/session"
	"github.com/harun/agentrelay/pkg/store"
	"github.com/rs/zerolog"
)

// ErrEmptyMessage is returned by PostMessage for blank text
var ErrEmptyMessage = errors.New("message text is required")

// CredentialResolver finds the API key for a provider
type CredentialResolver interface {
	Resolve(provider string) (string, error)
}

// Config wires a Service
type Config struct {
	Store       *store.Store
	Loop        agent.Loop
	Credentials CredentialResolver
	// Defaults fill options a create request leaves out
	Defaults         session.Options
	SubscriberBuffer int
	Logger           zerolog.Logger
}

// Descriptor is the public view of a session
type Descriptor struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Status      string    `json:"status"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	ToolVersion string    `json:"tool_version"`
}

// Service owns the live sessions, their subscribers and the run coordinator
type Service struct {
	store       *store.Store
	registry    *session.Registry
	hub         *fanout.Hub
	coordinator *runner.Coordinator
	credentials CredentialResolver
	defaults    session.Options
	logger      zerolog.Logger
}

// New creates a service with an empty registry. Call Restore to load
// persisted sessions.
func New(cfg Config) *Service {
	credentials := cfg.Credentials
	if credentials == nil {
		credentials = agent.NewCredentialResolver(nil)
	}
	defaults := cfg.Defaults
	if defaults.Provider == "" {
		defaults = session.DefaultOptions()
	}

	hub := fanout.NewHub(fanout.Config{
		BufferSize: cfg.SubscriberBuffer,
		Logger:     cfg.Logger.With().Str("component", "fanout").Logger(),
	})
	return &Service{
		store:    cfg.Store,
		registry: session.NewRegistry(),
		hub:      hub,
		coordinator: runner.New(runner.Config{
			Loop:      cfg.Loop,
			Store:     cfg.Store,
			Publisher: hub,
			Logger:    cfg.Logger.With().Str("component", "runner").Logger(),
		}),
		credentials: credentials,
		defaults:    defaults,
		logger:      cfg.Logger,
	}
}

// Defaults returns the options a create request starts from
func (s *Service) Defaults() session.Options {
	opts := s.defaults
	if opts.OnlyNMostRecentImages != nil {
		n := *opts.OnlyNMostRecentImages
		opts.OnlyNMostRecentImages = &n
	}
	if opts.ThinkingBudget != nil {
		n := *opts.ThinkingBudget
		opts.ThinkingBudget = &n
	}
	return opts
}

// Restore loads persisted sessions into the registry. Sessions left running
// by a previous process are reset to idle. A session whose credential can
// no longer be resolved is still restored; its runs fail until it is
// recreated.
func (s *Service) Restore(ctx context.Context) (int, error) {
	logger := tracing.LoggerFromContext(ctx, s.logger)

	interrupted, err := s.store.ResetRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted sessions: %w", err)
	}
	for _, id := range interrupted {
		logger.Warn().Str("session_id", id).Msg("Session run was interrupted by a restart")
	}

	records, err := s.store.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list persisted sessions: %w", err)
	}

	restored := 0
	for _, rec := range records {
		messages, err := s.store.ListMessages(ctx, rec.ID)
		if err != nil {
			return restored, fmt.Errorf("load messages for %s: %w", rec.ID, err)
		}
		history := make([]session.Turn, 0, len(messages))
		for _, m := range messages {
			var blocks []session.ContentBlock
			if err := json.Unmarshal(m.Content, &blocks); err != nil {
				logger.Warn().Err(err).Str("session_id", rec.ID).Int64("message_id", m.ID).Msg("Skipping unreadable message")
				continue
			}
			history = append(history, session.Turn{Role: session.Role(m.Role), Content: blocks})
		}

		apiKey, err := s.credentials.Resolve(rec.Options.Provider)
		if err != nil {
			logger.Warn().Err(err).Str("session_id", rec.ID).Msg("Restored session has no credential")
		}
		s.registry.Restore(rec.ID, rec.CreatedAt, rec.Options, apiKey, history)
		restored++
	}

	logger.Info().Int("sessions", restored).Msg("Restored persisted sessions")
	return restored, nil
}

// CreateSession validates opts, resolves the provider credential and
// allocates an idle session
func (s *Service) CreateSession(ctx context.Context, opts session.Options) (Descriptor, error) {
	if err := opts.Validate(); err != nil {
		return Descriptor{}, err
	}
	apiKey, err := s.credentials.Resolve(opts.Provider)
	if err != nil {
		observability.RecordSessionAudit(ctx, "create", "", "failure", map[string]interface{}{
			"provider": opts.Provider,
			"reason":   "missing_credential",
		})
		return Descriptor{}, err
	}

	sess := s.registry.Create(opts, apiKey)
	rec := store.SessionRecord{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		Status:    session.StatusIdle,
		Options:   opts,
	}
	if err := s.store.CreateOrReplaceSession(ctx, rec); err != nil {
		s.registry.Delete(sess.ID)
		return Descriptor{}, err
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("session_id", sess.ID).
		Str("provider", opts.Provider).
		Str("model", opts.Model).
		Msg("Session created")
	observability.RecordSessionAudit(ctx, "create", sess.ID, "success", map[string]interface{}{
		"provider": opts.Provider,
		"model":    opts.Model,
	})
	return describe(rec), nil
}

// ListSessions returns every persisted session, newest first
func (s *Service) ListSessions(ctx context.Context) ([]Descriptor, error) {
	records, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(records))
	for _, rec := range records {
		out = append(out, describe(rec))
	}
	return out, nil
}

// DeleteSession removes a session from memory and storage and detaches its
// subscribers. Deleting an unknown id succeeds.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	live := s.registry.Delete(id)
	s.hub.CloseSession(id)
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return err
	}

	if live {
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Info().Str("session_id", id).Msg("Session deleted")
		observability.RecordSessionAudit(ctx, "delete", id, "success", nil)
	}
	return nil
}

// Messages returns the persisted turns of a live session in order
func (s *Service) Messages(ctx context.Context, id string) ([]store.Message, error) {
	if _, err := s.registry.Get(id); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, id)
}

// PostMessage appends and persists a user turn, then starts a run if the
// session is idle. It does not wait for the run.
func (s *Service) PostMessage(ctx context.Context, id, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	sess, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	if s.coordinator.Closed() {
		return runner.ErrClosed
	}

	turn := session.Turn{
		Role:    session.RoleUser,
		Content: []session.ContentBlock{session.TextBlock(text)},
	}
	err = sess.Append(turn, func() error {
		_, err := s.store.AppendMessage(ctx, id, string(turn.Role), turn.Content)
		return err
	})
	if err != nil {
		return err
	}

	ctx = tracing.WithSessionID(ctx, id)
	started, err := s.coordinator.Trigger(ctx, sess)
	if err != nil {
		return err
	}
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().Bool("run_started", started).Msg("User message accepted")
	return nil
}

// Subscribe attaches sink to a live session. The sink first receives the
// persisted history, then live run events.
func (s *Service) Subscribe(ctx context.Context, id string, sink fanout.Sink) (*fanout.Subscriber, error) {
	sess, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	// a delete racing this call either sees the subscriber in CloseSession
	// or makes the attach fail
	sub, err := s.hub.SubscribeWhile(id, sink, fanout.History(messages), func() bool {
		return !sess.Deleted()
	})
	if errors.Is(err, fanout.ErrSessionGone) {
		return nil, session.ErrNotFound
	}
	return sub, err
}

// Unsubscribe detaches a subscriber
func (s *Service) Unsubscribe(sub *fanout.Subscriber) {
	s.hub.Unsubscribe(sub)
}

// Stats reports live counts
func (s *Service) Stats() Stats {
	return Stats{Sessions: s.registry.Len()}
}

// Stats is a snapshot of live state
type Stats struct {
	Sessions int `json:"sessions"`
}

// Shutdown waits for in-flight runs, then closes every subscriber
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.coordinator.Shutdown(ctx)
	s.hub.Close()
	return err
}

func describe(rec store.SessionRecord) Descriptor {
	return Descriptor{
		ID:          rec.ID,
		CreatedAt:   rec.CreatedAt,
		Status:      rec.Status,
		Provider:    rec.Options.Provider,
		Model:       rec.Options.Model,
		ToolVersion: rec.Options.ToolVersion,
	}
}
