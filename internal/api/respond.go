package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rewired-gh/airwatch/internal/logger"
	"github.com/rewired-gh/airwatch/internal/models"
)

// writeJSON writes body with status. Every response carries "success".
func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	if _, ok := body["success"]; !ok {
		body["success"] = status < http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

// writeServiceError maps domain errors to statuses. Storage and unexpected
// errors are logged and answered with fallback so internals do not leak.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFound, fallback string) {
	switch {
	case errors.Is(err, models.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, models.ErrConflict):
		writeError(w, http.StatusConflict, "Monitoring already active for this location")
	default:
		logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
