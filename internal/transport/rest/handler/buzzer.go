package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"classpulse/internal/service"
	"classpulse/internal/transport/rest/middleware"
)

// BuzzerHandler handles buzzer endpoints
type BuzzerHandler struct {
	buzzerSvc *service.BuzzerService
}

// NewBuzzerHandler creates a new buzzer handler
func NewBuzzerHandler(buzzerSvc *service.BuzzerService) *BuzzerHandler {
	return &BuzzerHandler{buzzerSvc: buzzerSvc}
}

// Open handles POST /v1/sessions/{sessionId}/buzzer/open
func (h *BuzzerHandler) Open(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	hostID := middleware.GetHostID(r.Context())

	if err := h.buzzerSvc.Open(r.Context(), sessionID, hostID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "open"})
}

// Lock handles POST /v1/sessions/{sessionId}/buzzer/lock
func (h *BuzzerHandler) Lock(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	hostID := middleware.GetHostID(r.Context())

	if err := h.buzzerSvc.Lock(r.Context(), sessionID, hostID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

// Reset handles POST /v1/sessions/{sessionId}/buzzer/reset
func (h *BuzzerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	hostID := middleware.GetHostID(r.Context())

	if err := h.buzzerSvc.Reset(r.Context(), sessionID, hostID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Buzz handles POST /v1/sessions/{sessionId}/buzzer/buzz
func (h *BuzzerHandler) Buzz(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	userID := middleware.GetUserID(r.Context())
	displayName := middleware.GetDisplayName(r.Context())

	rank, err := h.buzzerSvc.Buzz(r.Context(), sessionID, userID, displayName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rank": rank})
}
