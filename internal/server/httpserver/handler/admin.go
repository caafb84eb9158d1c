package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/yndnr/docsync-go/internal/core/domain"
	"github.com/yndnr/docsync-go/internal/infra/buildinfo"
)

// handleStatus handles GET /admin/v1/status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	relay := true
	if h.relayAvailable != nil {
		relay = h.relayAvailable()
	}
	h.writeJSON(w, r, http.StatusOK, StatusResponse{
		Build:          buildinfo.Get(),
		StartedAt:      h.started.UTC(),
		UptimeSeconds:  int64(time.Since(h.started).Seconds()),
		Rooms:          h.rooms.Len(),
		RelayAvailable: relay,
		Closing:        h.rooms.Closing(),
	})
}

// handleListRooms handles GET /admin/v1/rooms.
func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.rooms.Rooms(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, ListRoomsResponse{
		Rooms: rooms,
		Total: len(rooms),
	})
}

// handleGetRoom handles GET /admin/v1/rooms/{id}.
func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := domain.ValidateDocumentID(id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	info, err := h.rooms.Room(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, info)
}

// handleFlushRoom handles POST /admin/v1/rooms/{id}/flush.
func (h *Handler) handleFlushRoom(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := domain.ValidateDocumentID(id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if err := h.rooms.Flush(r.Context(), id); err != nil {
		h.logger.WarnContext(r.Context(), "flush failed", "document_id", id, "error", err)
		h.handleServiceError(w, r, err)
		return
	}
	// the room may have closed right after the flush; report the stored version
	resp := FlushResponse{DocumentID: id, FlushedAt: time.Now().UTC()}
	if info, err := h.rooms.Room(r.Context(), id); err == nil {
		resp.Version = info.Version
	} else if rec, err := h.rooms.Snapshot(r.Context(), id); err == nil {
		resp.Version = rec.Version
	}
	h.logger.InfoContext(r.Context(), "room flushed", "document_id", id, "version", resp.Version)
	h.writeJSON(w, r, http.StatusOK, resp)
}

// handleSnapshot handles GET /admin/v1/rooms/{id}/snapshot. It serves the
// live state of an open room and the stored snapshot otherwise.
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.rooms.Snapshot(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, SnapshotResponse{
		DocumentID: rec.DocumentID,
		Version:    rec.Version,
		Checksum:   fmt.Sprintf("%016x", rec.Checksum),
		UpdatedAt:  rec.UpdatedAt.UTC(),
		Size:       len(rec.Snapshot),
		Snapshot:   rec.Snapshot,
	})
}
