package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"classpulse/internal/model"
	"classpulse/internal/service"
	"classpulse/internal/transport/rest/middleware"
)

// ToolHandler handles live tool endpoints
type ToolHandler struct {
	toolSvc    *service.ToolService
	sessionSvc *service.SessionService
}

// NewToolHandler creates a new tool handler
func NewToolHandler(toolSvc *service.ToolService, sessionSvc *service.SessionService) *ToolHandler {
	return &ToolHandler{toolSvc: toolSvc, sessionSvc: sessionSvc}
}

// ActivateRequest is the request body for activating a tool
type ActivateRequest struct {
	Kind    model.ToolKind  `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Switch  bool            `json:"switch,omitempty"`
}

// Activate handles POST /v1/sessions/{sessionId}/tool
func (h *ToolHandler) Activate(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	hostID := middleware.GetHostID(r.Context())

	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	live, err := h.toolSvc.Activate(r.Context(), sessionID, hostID, req.Kind, req.Payload, req.Switch)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Host activity keeps the session inside its retention window.
	if err := h.sessionSvc.Touch(r.Context(), sessionID); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("failed to extend session expiry")
	}

	writeJSON(w, http.StatusOK, live)
}

// Deactivate handles DELETE /v1/sessions/{sessionId}/tool
func (h *ToolHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	hostID := middleware.GetHostID(r.Context())

	live, err := h.toolSvc.Deactivate(r.Context(), sessionID, hostID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, live)
}

// WordRequest is the request body for a word storm submission
type WordRequest struct {
	Word string `json:"word"`
}

// SubmitWord handles POST /v1/sessions/{sessionId}/wordstorm/words
func (h *ToolHandler) SubmitWord(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	userID := middleware.GetUserID(r.Context())

	var req WordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.toolSvc.SubmitWord(r.Context(), sessionID, userID, req.Word); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// PulseRequest is the request body for an energy pulse
type PulseRequest struct {
	Level int `json:"level"`
}

// Pulse handles POST /v1/sessions/{sessionId}/energy/pulse
func (h *ToolHandler) Pulse(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	userID := middleware.GetUserID(r.Context())

	var req PulseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.toolSvc.Pulse(r.Context(), sessionID, userID, req.Level); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// RollRequest is the request body for a dice roll
type RollRequest struct {
	Sides int `json:"sides"`
}

// Roll handles POST /v1/sessions/{sessionId}/dice/roll
func (h *ToolHandler) Roll(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	hostID := middleware.GetHostID(r.Context())

	var req RollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Sides == 0 {
		req.Sides = 6
	}

	value, err := h.toolSvc.Roll(r.Context(), sessionID, hostID, req.Sides)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"value": value})
}
