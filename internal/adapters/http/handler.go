package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PabloGalante/riseup-agent/internal/app/conversation"
	"github.com/PabloGalante/riseup-agent/internal/app/delivery"
	"github.com/PabloGalante/riseup-agent/internal/domain"
	"github.com/PabloGalante/riseup-agent/internal/observability"
)

const keepAliveInterval = 15 * time.Second

type Server struct {
	svc  *conversation.Service
	hubs *Hubs
}

func NewServer(svc *conversation.Service, hubs *Hubs) http.Handler {
	s := &Server{svc: svc, hubs: hubs}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)

	// /sessions → create session (POST)
	mux.HandleFunc("/sessions", s.handleSessions)

	// /sessions/{id}          → GET: session + turns
	// /sessions/{id}/messages → POST: submit, DELETE: clear history
	// /sessions/{id}/events   → GET: render events (SSE)
	mux.HandleFunc("/sessions/", s.handleSessionWithID)

	return chainMiddlewares(mux, withCORS, withLogging, withRequestID)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type createSessionRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title,omitempty"`
}

type createSessionResponse struct {
	Session sessionResponse `json:"session"`
	Turns   []turnResponse  `json:"turns"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type turnResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type sendMessageResponse struct {
	Status string        `json:"status"`
	Reply  *turnResponse `json:"reply,omitempty"`
}

type getSessionResponse struct {
	Session sessionResponse `json:"session"`
	Turns   []turnResponse  `json:"turns"`
}

// ─────────────────────────────────────────────
// Basic routing
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// /sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /sessions/{id}, /sessions/{id}/messages or /sessions/{id}/events
func (s *Server) handleSessionWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(path, "/")
	id := domain.SessionID(parts[0])

	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			s.handleGetSession(w, r, id)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 2 && parts[1] == "messages":
		switch r.Method {
		case http.MethodPost:
			s.handleSendMessage(w, r, id)
		case http.MethodDelete:
			s.handleClearHistory(w, r, id)
		default:
			methodNotAllowed(w)
		}

	case len(parts) == 2 && parts[1] == "events":
		switch r.Method {
		case http.MethodGet:
			s.handleEvents(w, r, id)
		default:
			methodNotAllowed(w)
		}

	default:
		http.NotFound(w, r)
	}
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	if req.UserID == "" {
		badRequest(w, "user_id is required")
		return
	}

	out, err := s.svc.StartSession(
		r.Context(),
		conversation.StartSessionInput{
			UserID: domain.UserID(req.UserID),
			Title:  req.Title,
		},
	)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		Session: toSessionResponse(out.Session),
		Turns:   toTurnsResponse(out.Turns),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	session, turns, err := s.svc.Timeline(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, getSessionResponse{
		Session: toSessionResponse(session),
		Turns:   toTurnsResponse(turns),
	})
}

// handleSendMessage answers 202 once the user turn is committed. With
// ?wait=true it holds the request until the reply is committed instead.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, sessionID domain.SessionID) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	done, err := s.svc.Submit(r.Context(), conversation.SubmitInput{
		SessionID: sessionID,
		Text:      req.Text,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, sendMessageResponse{Status: "accepted"})
		return
	}

	select {
	case turn, ok := <-done:
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "turn abandoned"})
			return
		}
		reply := toTurnResponse(turn)
		writeJSON(w, http.StatusOK, sendMessageResponse{Status: "delivered", Reply: &reply})
	case <-r.Context().Done():
	}
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request, sessionID domain.SessionID) {
	if err := s.svc.ClearHistory(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, sessionID domain.SessionID) {
	if _, _, err := s.svc.Timeline(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		internalError(w, errors.New("streaming unsupported"))
		return
	}

	sub, unsubscribe := s.hubs.Get(sessionID).Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-sub.Ready():
			for _, ev := range sub.Drain() {
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
			}
			flusher.Flush()
		}
	}
}

// ─────────────────────────────────────────────
// Conversation Helpers
// ─────────────────────────────────────────────

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		ID:        string(s.ID),
		UserID:    string(s.UserID),
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toTurnResponse(t domain.Turn) turnResponse {
	return turnResponse{
		ID:        string(t.ID),
		Role:      string(t.Role),
		Text:      t.Text,
		CreatedAt: t.Timestamp,
	}
}

func toTurnsResponse(turns []domain.Turn) []turnResponse {
	out := make([]turnResponse, 0, len(turns))
	for _, t := range turns {
		out = append(out, toTurnResponse(t))
	}
	return out
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, delivery.ErrTurnInFlight):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a reply is still being delivered"})
	case errors.Is(err, delivery.ErrEmptyInput):
		badRequest(w, "text is required")
	case errors.Is(err, delivery.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "shutting down"})
	default:
		observability.LoggerFromContext(r.Context()).Error("request failed", "error", err)
		internalError(w, err)
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}

func internalError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "method not allowed",
	})
}
