package session

import (
	"sync"
	"time"
)

// Session is the live state of one conversation. Configuration is fixed at
// creation; history and run state are guarded by mu.
type Session struct {
	ID        string
	CreatedAt time.Time
	Options   Options

	apiKey string

	mu      sync.Mutex
	history []Turn
	running bool
	deleted bool
}

func newSession(id string, createdAt time.Time, opts Options, apiKey string, history []Turn) *Session {
	return &Session{
		ID:        id,
		CreatedAt: createdAt,
		Options:   opts,
		apiKey:    apiKey,
		history:   cloneTurns(history),
	}
}

// APIKey returns the credential resolved when the session was created
func (s *Session) APIKey() string {
	return s.apiKey
}

// History returns a copy of the conversation so far
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTurns(s.history)
}

// Len returns the number of turns in the conversation
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Append persists a turn through persist and, only if that succeeds, appends
// it to the in-memory history. Holding the session lock across both keeps
// memory order equal to storage order for concurrent posts.
func (s *Session) Append(turn Turn, persist func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted {
		return ErrNotFound
	}
	if persist != nil {
		if err := persist(); err != nil {
			return err
		}
	}
	s.history = append(s.history, cloneTurn(turn))
	return nil
}

// TryStart atomically flips the session from idle to running. It returns
// false if a run is already in progress or the session was deleted.
func (s *Session) TryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.deleted {
		return false
	}
	s.running = true
	return true
}

// Finish flips the session back to idle
func (s *Session) Finish() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Running reports whether a run is in progress
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the persisted status string for the current run state
func (s *Session) Status() string {
	if s.Running() {
		return StatusRunning
	}
	return StatusIdle
}

// Deleted reports whether the session was removed from the registry
func (s *Session) Deleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

// Commit installs the turns a run produced after the first snapshotLen
// turns. Turns appended since the snapshot (posts made while the run was in
// flight) stay after them. persist receives the new turns and the number of
// such pending turns; history changes only if it succeeds.
func (s *Session) Commit(snapshotLen int, turns []Turn, persist func(turns []Turn, pending int) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted {
		return ErrNotFound
	}
	if snapshotLen > len(s.history) {
		snapshotLen = len(s.history)
	}
	pending := len(s.history) - snapshotLen
	if persist != nil {
		if err := persist(turns, pending); err != nil {
			return err
		}
	}

	next := make([]Turn, 0, len(s.history)+len(turns))
	next = append(next, s.history[:snapshotLen]...)
	next = append(next, cloneTurns(turns)...)
	next = append(next, s.history[snapshotLen:]...)
	s.history = next
	return nil
}

func (s *Session) markDeleted() {
	s.mu.Lock()
	s.deleted = true
	s.mu.Unlock()
}

func cloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return []Turn{}
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = cloneTurn(t)
	}
	return out
}

func cloneTurn(t Turn) Turn {
	blocks := make([]ContentBlock, len(t.Content))
	copy(blocks, t.Content)
	return Turn{Role: t.Role, Content: blocks}
}
