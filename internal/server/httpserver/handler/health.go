package handler

import (
	"net/http"
	"time"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready. An instance is not ready while it shuts
// down or while its relay is down: its rooms would miss remote edits.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	switch {
	case h.rooms.Closing():
		h.writeError(w, r, http.StatusServiceUnavailable, "DS-ROOM-5030", "shutting down", nil)
	case h.relayAvailable != nil && !h.relayAvailable():
		h.writeError(w, r, http.StatusServiceUnavailable, "DS-RLAY-5030", "relay unavailable", nil)
	default:
		h.writeJSON(w, r, http.StatusOK, map[string]string{
			"status": "ready",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
