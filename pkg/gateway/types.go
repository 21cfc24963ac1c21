package gateway

import (
	"time"

	"github.com/gorilla/websocket"
)

// PostMessageRequest is the body of POST /sessions/{id}/messages
type PostMessageRequest struct {
	Text string `json:"text"`
}

// StatusResponse acknowledges a mutation
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// VNCResponse is the body of GET /vnc-url
type VNCResponse struct {
	URL string `json:"url"`
}

// EvaluationResponse is the body of GET /evaluation
type EvaluationResponse struct {
	Weights        map[string]float64 `json:"weights"`
	WeightsPercent map[string]int     `json:"weights_percent"`
	Total          float64            `json:"total"`
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Clients  int    `json:"clients"`
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
	Idle         bool      `json:"idle"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID           string
	SessionID    string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string
}
