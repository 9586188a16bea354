package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"classpulse/internal/model"
	"classpulse/internal/service"
	"classpulse/internal/transport/rest/middleware"
)

// ScoreHandler handles scoring endpoints
type ScoreHandler struct {
	scoringSvc *service.ScoringService
}

// NewScoreHandler creates a new score handler
func NewScoreHandler(scoringSvc *service.ScoringService) *ScoreHandler {
	return &ScoreHandler{scoringSvc: scoringSvc}
}

// AwardRequest is the request body for awarding points
type AwardRequest struct {
	// EventID makes retried requests idempotent; clients that omit it
	// get a fresh id and therefore at-most-once per request only.
	EventID string `json:"eventId,omitempty"`
	UserID  string `json:"userId"`
	Points  int    `json:"points"`
	Reason  string `json:"reason,omitempty"`
}

// Award handles POST /v1/sessions/{sessionId}/awards
func (h *ScoreHandler) Award(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	var req AwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.EventID == "" {
		req.EventID = uuid.New().String()
	}

	event := &model.AwardEvent{
		ID:        req.EventID,
		SessionID: sessionID,
		UserID:    req.UserID,
		Points:    req.Points,
		Reason:    req.Reason,
	}
	if err := h.scoringSvc.Award(r.Context(), middleware.GetHostID(r.Context()), event); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

// Leaderboard handles GET /v1/sessions/{sessionId}/leaderboard
func (h *ScoreHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.scoringSvc.Leaderboard(r.Context(), sessionID, middleware.GetHostID(r.Context()), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

// History handles GET /v1/sessions/{sessionId}/members/{userId}/history
func (h *ScoreHandler) History(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	entries, err := h.scoringSvc.History(r.Context(), vars["sessionId"], middleware.GetHostID(r.Context()), vars["userId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// Lifetime handles GET /v1/users/{userId}/lifetime
func (h *ScoreHandler) Lifetime(w http.ResponseWriter, r *http.Request) {
	points, err := h.scoringSvc.LifetimePoints(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"lifetimePoints": points})
}

// Reset handles POST /v1/sessions/{sessionId}/scores/reset
func (h *ScoreHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	hostID := middleware.GetHostID(r.Context())

	if err := h.scoringSvc.ResetScores(r.Context(), sessionID, hostID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
