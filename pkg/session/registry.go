package session

import (
	"sort"
	"sync"
	"time"

	"github.com/harun/agentrelay/internal/observability"
)

// Registry is the in-memory table of live sessions
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ids      *IDGenerator
	now      func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	observability.EnsureRegistered()

	return &Registry{
		sessions: make(map[string]*Session),
		ids:      NewIDGenerator(),
		now:      time.Now,
	}
}

// Create allocates a new idle session with an empty history
func (r *Registry) Create(opts Options, apiKey string) *Session {
	s := newSession(r.ids.New(), r.now().UTC(), opts, apiKey, nil)

	r.mu.Lock()
	r.sessions[s.ID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	observability.SetActiveSessions(count)
	return s
}

// Restore inserts a session rebuilt from durable storage. An existing live
// session with the same id is kept.
func (r *Registry) Restore(id string, createdAt time.Time, opts Options, apiKey string, history []Turn) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[id]; ok {
		return existing
	}
	s := newSession(id, createdAt, opts, apiKey, history)
	r.sessions[id] = s
	observability.SetActiveSessions(len(r.sessions))
	return s
}

// Get returns the live session with the given id
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete removes a session and marks it deleted so an in-flight run stops
// producing side effects. It reports whether the session was live.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		s.markDeleted()
	}
	observability.SetActiveSessions(count)
	return ok
}

// List returns a snapshot of live sessions, newest first
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
