package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"classpulse/internal/service"
	"classpulse/internal/transport/rest/middleware"
)

// PollHandler handles poll endpoints
type PollHandler struct {
	pollSvc *service.PollService
}

// NewPollHandler creates a new poll handler
func NewPollHandler(pollSvc *service.PollService) *PollHandler {
	return &PollHandler{pollSvc: pollSvc}
}

// OpenPollRequest is the request body for opening a poll
type OpenPollRequest struct {
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	MultiVote bool     `json:"multiVote,omitempty"`
}

// Open handles POST /v1/sessions/{sessionId}/poll
func (h *PollHandler) Open(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	hostID := middleware.GetHostID(r.Context())

	var req OpenPollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.pollSvc.OpenPoll(r.Context(), sessionID, hostID, req.Question, req.Options, req.MultiVote); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "open"})
}

// VoteRequest is the request body for casting a vote
type VoteRequest struct {
	OptionID string `json:"optionId"`
}

// Vote handles POST /v1/sessions/{sessionId}/poll/votes
func (h *PollHandler) Vote(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	userID := middleware.GetUserID(r.Context())

	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.pollSvc.CastVote(r.Context(), sessionID, userID, req.OptionID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// Close handles POST /v1/sessions/{sessionId}/poll/close
func (h *PollHandler) Close(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	hostID := middleware.GetHostID(r.Context())

	if err := h.pollSvc.ClosePoll(r.Context(), sessionID, hostID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// Tally handles GET /v1/sessions/{sessionId}/poll/tally
func (h *PollHandler) Tally(w http.ResponseWriter, r *http.Request) {
	tally, err := h.pollSvc.Tally(r.Context(), mux.Vars(r)["sessionId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tally)
}
