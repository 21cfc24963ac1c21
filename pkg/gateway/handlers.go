package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/harun/agentrelay/internal/tracing"
	"github.com/harun/agentrelay/pkg/agent"
	"github.com/harun/agentrelay/pkg/runner"
	"github.com/harun/agentrelay/pkg/service"
	"github.com/harun/agentrelay/pkg/session"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// writeServiceError maps service sentinels onto status codes
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, agent.ErrMissingCredential),
		errors.Is(err, session.ErrInvalidOptions),
		errors.Is(err, service.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, runner.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
	default:
		logger := tracing.LoggerFromContext(r.Context(), s.logger)
		logger.Error().Err(err).
			Str("path", r.URL.Path).
			Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeBody decodes a JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Sessions: s.service.Stats().Sessions,
		Clients:  s.clients.Count(),
	})
}

// evaluationWeights is the fixed review rubric, in percent
var evaluationWeights = map[string]int{
	"backend_design":      40,
	"real_time_streaming": 25,
	"code_quality":        20,
	"documentation":       15,
}

func (s *Server) getEvaluation(w http.ResponseWriter, r *http.Request) {
	resp := EvaluationResponse{
		Weights:        make(map[string]float64, len(evaluationWeights)),
		WeightsPercent: make(map[string]int, len(evaluationWeights)),
	}
	total := 0
	for name, pct := range evaluationWeights {
		resp.Weights[name] = float64(pct) / 100
		resp.WeightsPercent[name] = pct
		total += pct
	}
	resp.Total = float64(total) / 100
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getVNCURL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VNCResponse{URL: s.vncURL})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	opts := s.service.Defaults()
	if err := decodeBody(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	desc, err := s.service.CreateSession(r.Context(), opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "deleted"})
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.service.Messages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	id := chi.URLParam(r, "sessionID")
	ctx := tracing.WithSessionID(r.Context(), id)
	if err := s.service.PostMessage(ctx, id, req.Text); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "accepted"})
}
