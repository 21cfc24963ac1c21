package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/harun/agentrelay/internal/tracing"
	"github.com/harun/agentrelay/pkg/fanout"
	"github.com/harun/agentrelay/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const maxInboundFrame = 64 << 10

// wsSink adapts a WebSocket connection to fanout.Sink. WriteJSON is called
// only from the subscriber's writer goroutine.
type wsSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (w *wsSink) WriteJSON(v any) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(v)
}

func (w *wsSink) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(w.writeTimeout))
	return w.conn.Close()
}

// handleWebSocket streams a session's events. The first frame is the
// persisted history; inbound frames are read only to keep the connection
// alive.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	ctx := tracing.WithSessionID(r.Context(), sessionID)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	sink := &wsSink{conn: conn, writeTimeout: s.writeTimeout}
	sub, err := s.service.Subscribe(ctx, sessionID, sink)
	if err != nil {
		code, message := websocket.CloseInternalServerErr, "Internal server error"
		if errors.Is(err, session.ErrNotFound) {
			code, message = websocket.ClosePolicyViolation, "Session not found"
		} else {
			logger.Error().Err(err).Msg("Failed to subscribe")
		}
		_ = sink.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		_ = conn.WriteJSON(fanout.Error(message))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, message), time.Now().Add(s.writeTimeout))
		conn.Close()
		return
	}

	clientID, _ := gonanoid.New()
	now := time.Now()
	viewers := s.clients.Add(&Client{
		ID:           clientID,
		SessionID:    sessionID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
	})

	logger.Info().
		Str("client_id", clientID).
		Str("subscriber_id", sub.ID).
		Str("ip", r.RemoteAddr).
		Int("viewers", viewers).
		Msg("Client connected")

	defer func() {
		s.service.Unsubscribe(sub)
		s.clients.Remove(clientID)
		conn.Close()
		logger.Info().Str("client_id", clientID).Msg("Client disconnected")
	}()

	pongWait := 2 * s.pingInterval
	conn.SetReadLimit(maxInboundFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		s.clients.Touch(clientID)
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Debug().Err(err).Str("client_id", clientID).Msg("WebSocket read error")
			}
			return
		}
		s.clients.Touch(clientID)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
