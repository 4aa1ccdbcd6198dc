// Package api provides the local HTTP control surface for the Akai
// desk client. A renderer (or curl) drives the session through these
// endpoints and polls /api/state for the current view.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/akai-desk/internal/session"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// stateResponse wraps the view with an activity flag so /api/state is
// pollable before a session exists.
type stateResponse struct {
	Active bool `json:"active"`
	session.View
}
