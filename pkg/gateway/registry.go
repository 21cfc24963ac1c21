package gateway

import (
	"sort"
	"sync"
	"time"
)

const idleAfter = 5 * time.Minute

// ClientRegistry tracks open WebSocket connections, indexed by session
type ClientRegistry struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	bySession map[string]map[string]struct{}
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients:   make(map[string]*Client),
		bySession: make(map[string]map[string]struct{}),
	}
}

// Add registers a viewer and returns how many viewers its session now has
func (r *ClientRegistry) Add(client *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[client.ID] = client
	ids, ok := r.bySession[client.SessionID]
	if !ok {
		ids = make(map[string]struct{})
		r.bySession[client.SessionID] = ids
	}
	ids[client.ID] = struct{}{}
	return len(ids)
}

// Remove drops a viewer. Unknown ids are ignored.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[clientID]
	if !ok {
		return
	}
	delete(r.clients, clientID)
	if ids := r.bySession[client.SessionID]; ids != nil {
		delete(ids, clientID)
		if len(ids) == 0 {
			delete(r.bySession, client.SessionID)
		}
	}
}

// GetAll returns all clients
func (r *ClientRegistry) GetAll() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// SessionCount returns the number of viewers of one session
func (r *ClientRegistry) SessionCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession[sessionID])
}

// GetConnectedClients describes every viewer, oldest connection first
func (r *ClientRegistry) GetConnectedClients() []ClientInfo {
	r.mu.RLock()
	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		infos = append(infos, ClientInfo{
			ID:           c.ID,
			SessionID:    c.SessionID,
			ConnectedAt:  c.ConnectedAt,
			LastActivity: c.LastActivity,
			IPAddress:    c.IPAddress,
			Idle:         now.Sub(c.LastActivity) > idleAfter,
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Touch records inbound traffic (a frame or a pong) from a viewer
func (r *ClientRegistry) Touch(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[clientID]; ok {
		client.LastActivity = time.Now()
	}
}
