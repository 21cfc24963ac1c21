package fanout

import (
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Sink is the network side of a subscriber. WriteJSON is only ever called
// from the subscriber's writer goroutine.
type Sink interface {
	WriteJSON(v any) error
	Close() error
}

// Subscriber is one live observer of a session. Events are queued by
// Publish and written to the sink by a dedicated goroutine, in order.
type Subscriber struct {
	ID        string
	SessionID string

	sink      Sink
	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	hub       *Hub
}

func newSubscriber(hub *Hub, sessionID string, sink Sink, bufferSize int) *Subscriber {
	id, _ := gonanoid.New()
	return &Subscriber{
		ID:        id,
		SessionID: sessionID,
		sink:      sink,
		queue:     make(chan Event, bufferSize),
		done:      make(chan struct{}),
		hub:       hub,
	}
}

// Done is closed once the subscriber has been removed from the hub
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// enqueue never blocks; it reports false when the queue is full
func (s *Subscriber) enqueue(ev Event) bool {
	select {
	case <-s.done:
		return true
	default:
	}

	select {
	case s.queue <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscriber) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			if err := s.sink.WriteJSON(ev); err != nil {
				s.hub.drop(s, err)
				return
			}
		}
	}
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sink.Close()
	})
}
