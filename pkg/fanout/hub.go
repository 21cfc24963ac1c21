package fanout

import (
	"errors"
	"sync"

	"github.com/harun/agentrelay/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultBufferSize is the per-subscriber queue length used when Config
// leaves it unset
const DefaultBufferSize = 256

var (
	// ErrClosed is returned by Subscribe after Close
	ErrClosed = errors.New("fanout hub closed")
	// ErrSessionGone is returned by SubscribeWhile when the session ended
	// before the subscriber could be attached
	ErrSessionGone = errors.New("session is gone")
)

// Config holds hub configuration
type Config struct {
	BufferSize int
	Logger     zerolog.Logger
}

// Hub holds the live subscribers of every session
type Hub struct {
	mu         sync.RWMutex
	sessions   map[string]map[string]*Subscriber
	bufferSize int
	logger     zerolog.Logger
	closed     bool
}

// NewHub creates an empty hub
func NewHub(cfg Config) *Hub {
	observability.EnsureRegistered()

	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Hub{
		sessions:   make(map[string]map[string]*Subscriber),
		bufferSize: size,
		logger:     cfg.Logger,
	}
}

// Subscribe attaches sink to sessionID. first is queued before the
// subscriber becomes visible to Publish, so it is always the first frame
// the sink receives.
func (h *Hub) Subscribe(sessionID string, sink Sink, first Event) (*Subscriber, error) {
	return h.SubscribeWhile(sessionID, sink, first, nil)
}

// SubscribeWhile is Subscribe guarded by alive, which is checked under the
// hub lock. A session that is closed with CloseSession after alive turns
// false can therefore never keep a subscriber. On ErrSessionGone the sink is
// left open for the caller to report the failure.
func (h *Hub) SubscribeWhile(sessionID string, sink Sink, first Event, alive func() bool) (*Subscriber, error) {
	sub := newSubscriber(h, sessionID, sink, h.bufferSize)
	if first != nil {
		sub.queue <- first
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return nil, ErrClosed
	}
	if alive != nil && !alive() {
		h.mu.Unlock()
		return nil, ErrSessionGone
	}
	set, ok := h.sessions[sessionID]
	if !ok {
		set = make(map[string]*Subscriber)
		h.sessions[sessionID] = set
	}
	set[sub.ID] = sub
	h.mu.Unlock()

	observability.AddLiveSubscribers(1)
	go sub.writeLoop()

	h.logger.Debug().
		Str("session_id", sessionID).
		Str("subscriber_id", sub.ID).
		Msg("Subscriber attached")
	return sub, nil
}

// Unsubscribe detaches a subscriber and closes its sink. It is safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if h.remove(sub) {
		h.logger.Debug().
			Str("session_id", sub.SessionID).
			Str("subscriber_id", sub.ID).
			Msg("Subscriber detached")
	}
	sub.close()
}

// Publish queues ev for every subscriber of sessionID and returns how many
// accepted it. It never blocks on a subscriber: one whose queue is full is
// dropped.
func (h *Hub) Publish(sessionID string, ev Event) int {
	observability.RecordFanoutEvent(string(ev.Kind()))

	var overflow []*Subscriber
	delivered := 0

	h.mu.RLock()
	for _, sub := range h.sessions[sessionID] {
		if sub.enqueue(ev) {
			delivered++
		} else {
			overflow = append(overflow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range overflow {
		h.drop(sub, errQueueFull)
	}
	return delivered
}

var errQueueFull = errors.New("subscriber queue full")

// CloseSession detaches every subscriber of sessionID
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	set := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	for _, sub := range set {
		sub.close()
	}
	if len(set) > 0 {
		observability.AddLiveSubscribers(-len(set))
	}
}

// Count returns the number of live subscribers of sessionID
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Close detaches every subscriber and rejects further subscriptions
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := h.sessions
	h.sessions = make(map[string]map[string]*Subscriber)
	h.mu.Unlock()

	n := 0
	for _, set := range all {
		for _, sub := range set {
			sub.close()
			n++
		}
	}
	if n > 0 {
		observability.AddLiveSubscribers(-n)
	}
}

func (h *Hub) drop(sub *Subscriber, reason error) {
	if h.remove(sub) {
		observability.RecordSubscriberDropped()
		h.logger.Warn().
			Err(reason).
			Str("session_id", sub.SessionID).
			Str("subscriber_id", sub.ID).
			Msg("Dropping subscriber")
	}
	sub.close()
}

func (h *Hub) remove(sub *Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[sub.SessionID]
	if !ok {
		return false
	}
	if cur, ok := set[sub.ID]; !ok || cur != sub {
		return false
	}
	delete(set, sub.ID)
	if len(set) == 0 {
		delete(h.sessions, sub.SessionID)
	}
	observability.AddLiveSubscribers(-1)
	return true
}
