package handler

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// handleSync handles GET /v1/documents/{id}/sync. The connection is
// upgraded to a WebSocket and handed to the session layer, which expects a
// handshake for the same document.
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := domain.ValidateDocumentID(id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if h.rooms.Closing() {
		h.writeError(w, r, http.StatusServiceUnavailable, "DS-ROOM-5030", "shutting down", nil)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		h.logger.DebugContext(r.Context(), "websocket upgrade failed", "document_id", id, "error", err)
		return
	}

	h.conns.Add(1)
	defer h.conns.Done()

	conn := NewWSConn(ws, h.maxMessage)
	if err := h.sessions.ServeDocument(h.base, conn, id); err != nil {
		h.logger.InfoContext(r.Context(), "session ended with error",
			"document_id", id,
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
	}
}

// WSConn adapts a WebSocket connection to session.Conn. Every frame is one
// binary message.
type WSConn struct {
	ws *websocket.Conn
}

// NewWSConn wraps ws. A positive limit bounds inbound message sizes; larger
// messages fail the read.
func NewWSConn(ws *websocket.Conn, limit int64) *WSConn {
	if limit > 0 {
		ws.SetReadLimit(limit)
	}
	return &WSConn{ws: ws}
}

// Read returns the next binary message. Text messages are skipped.
func (c *WSConn) Read() ([]byte, error) {
	for {
		mt, p, err := c.ws.ReadMessage()
		if err != nil {
			if err == websocket.ErrReadLimit {
				return nil, domain.ErrPayloadTooLarge.WithCause(err).WithDetails("message exceeds the read limit")
			}
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return p, nil
		}
	}
}

// Write sends b as one binary message.
func (c *WSConn) Write(b []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}

// SetReadDeadline implements session.Conn.
func (c *WSConn) SetReadDeadline(t time.Time) error { return c.ws.SetReadDeadline(t) }

// SetWriteDeadline implements session.Conn.
func (c *WSConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

// Close sends a close message and closes the connection.
func (c *WSConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// checkOrigin returns the upgrader's origin check. Requests without an
// Origin header come from non-browser clients and are always allowed.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
