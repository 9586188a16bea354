package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"classpulse/internal/service"
	"classpulse/internal/transport/rest/middleware"
)

// ConnectionCounter reports live WebSocket connections per session.
type ConnectionCounter interface {
	ConnectionCount(sessionID string) int
}

// SessionHandler handles session lifecycle endpoints
type SessionHandler struct {
	sessionSvc *service.SessionService
	conns      ConnectionCounter
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionSvc *service.SessionService, conns ConnectionCounter) *SessionHandler {
	return &SessionHandler{sessionSvc: sessionSvc, conns: conns}
}

// Create handles POST /v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	hostID := middleware.GetHostID(r.Context())
	if hostID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	session, err := h.sessionSvc.CreateSession(r.Context(), hostID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// Get handles GET /v1/sessions/{sessionId}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessionSvc.GetSession(r.Context(), mux.Vars(r)["sessionId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Resolve handles GET /v1/codes/{code}
func (h *SessionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.sessionSvc.ResolveCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID})
}

// JoinRequest is the request body for joining a session
type JoinRequest struct {
	DisplayName string `json:"displayName"`
}

// Join handles POST /v1/codes/{code}/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "displayName is required")
		return
	}

	resp, err := h.sessionSvc.Join(r.Context(), mux.Vars(r)["code"], req.DisplayName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats handles GET /v1/sessions/{sessionId}/stats
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	session, err := h.sessionSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId":   session.ID,
		"status":      session.Status,
		"connections": h.conns.ConnectionCount(sessionID),
	})
}

// End handles POST /v1/sessions/{sessionId}/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	hostID := middleware.GetHostID(r.Context())
	if err := h.sessionSvc.EndSession(r.Context(), mux.Vars(r)["sessionId"], hostID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}
