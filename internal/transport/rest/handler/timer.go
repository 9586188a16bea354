package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"classpulse/internal/service"
	"classpulse/internal/transport/rest/middleware"
)

// TimerHandler handles timer endpoints
type TimerHandler struct {
	timerSvc *service.TimerService
}

// NewTimerHandler creates a new timer handler
func NewTimerHandler(timerSvc *service.TimerService) *TimerHandler {
	return &TimerHandler{timerSvc: timerSvc}
}

// StartTimerRequest is the request body for starting a timer
type StartTimerRequest struct {
	DurationSeconds int    `json:"durationSeconds"`
	Label           string `json:"label,omitempty"`
}

// Start handles POST /v1/sessions/{sessionId}/timer/start
func (h *TimerHandler) Start(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	hostID := middleware.GetHostID(r.Context())

	var req StartTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DurationSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "durationSeconds must be positive")
		return
	}

	state, err := h.timerSvc.Start(r.Context(), sessionID, hostID, time.Duration(req.DurationSeconds)*time.Second, req.Label)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Pause handles POST /v1/sessions/{sessionId}/timer/pause
func (h *TimerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	hostID := middleware.GetHostID(r.Context())

	state, err := h.timerSvc.Pause(r.Context(), sessionID, hostID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Resume handles POST /v1/sessions/{sessionId}/timer/resume
func (h *TimerHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	hostID := middleware.GetHostID(r.Context())

	state, err := h.timerSvc.Resume(r.Context(), sessionID, hostID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Stop handles POST /v1/sessions/{sessionId}/timer/stop
func (h *TimerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	hostID := middleware.GetHostID(r.Context())

	state, err := h.timerSvc.Stop(r.Context(), sessionID, hostID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Remaining handles GET /v1/sessions/{sessionId}/timer
func (h *TimerHandler) Remaining(w http.ResponseWriter, r *http.Request) {
	remaining, state, err := h.timerSvc.Remaining(r.Context(), mux.Vars(r)["sessionId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"remainingSeconds": int(remaining / time.Second),
		"state":            state,
	})
}
