package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"classpulse/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Policy
// rejections (locked buzzer, tool conflict) are client-visible
// conditions, not server failures.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, model.ErrBuzzerLocked):
		writeError(w, http.StatusConflict, "buzzer is locked")
	case errors.Is(err, model.ErrToolConflict):
		writeError(w, http.StatusConflict, "another tool is active")
	case errors.Is(err, model.ErrSessionEnded):
		writeError(w, http.StatusGone, "session has ended")
	case errors.Is(err, model.ErrNotHost):
		writeError(w, http.StatusForbidden, "not the session host")
	case errors.Is(err, model.ErrTransactionConflict), errors.Is(err, model.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, try again")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
