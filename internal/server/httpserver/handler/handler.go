package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/docsync-go/internal/core/domain"
	"github.com/yndnr/docsync-go/internal/room"
	"github.com/yndnr/docsync-go/internal/session"
	"github.com/yndnr/docsync-go/internal/telemetry/logger"
)

// Rooms is the part of the room manager the handlers use.
type Rooms interface {
	Rooms(ctx context.Context) ([]room.Info, error)
	Room(ctx context.Context, documentID string) (room.Info, error)
	Flush(ctx context.Context, documentID string) error
	Snapshot(ctx context.Context, documentID string) (*domain.PersistenceRecord, error)
	Len() int
	Closing() bool
}

// Sessions serves one sync connection bound to a document.
type Sessions interface {
	ServeDocument(ctx context.Context, conn session.Conn, documentID string) error
}

// Config holds the collaborators of a Handler.
type Config struct {
	Rooms    Rooms
	Sessions Sessions

	// RelayAvailable reports the relay state for /ready. Nil means the
	// instance runs without a relay.
	RelayAvailable func() bool

	// AllowedOrigins restricts WebSocket upgrades. Empty allows same-origin
	// requests only; "*" allows any origin.
	AllowedOrigins []string

	// MaxMessageSize bounds inbound WebSocket messages.
	MaxMessageSize int64

	Logger *slog.Logger
}

// Handler is the main HTTP handler that routes requests to appropriate handlers.
type Handler struct {
	rooms          Rooms
	sessions       Sessions
	relayAvailable func() bool
	logger         *slog.Logger
	mux            *http.ServeMux
	upgrader       websocket.Upgrader
	maxMessage     int64
	started        time.Time

	// base outlives requests: hijacked connections are not cancelled by
	// http.Server.Shutdown.
	base   context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

// New creates a Handler.
func New(cfg Config) *Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	h := &Handler{
		rooms:          cfg.Rooms,
		sessions:       cfg.Sessions,
		relayAvailable: cfg.RelayAvailable,
		logger:         log.With("component", "http"),
		mux:            http.NewServeMux(),
		maxMessage:     cfg.MaxMessageSize,
		started:        time.Now(),
		base:           base,
		cancel:         cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
	}

	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all HTTP routes.
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /v1/documents/{id}/sync", h.handleSync)

	h.mux.HandleFunc("GET /admin/v1/status", h.handleStatus)
	h.mux.HandleFunc("GET /admin/v1/rooms", h.handleListRooms)
	h.mux.HandleFunc("GET /admin/v1/rooms/{id}", h.handleGetRoom)
	h.mux.HandleFunc("POST /admin/v1/rooms/{id}/flush", h.handleFlushRoom)
	h.mux.HandleFunc("GET /admin/v1/rooms/{id}/snapshot", h.handleSnapshot)
}

// CloseSessions ends every open sync connection and waits for them to
// return, or for ctx to expire.
func (h *Handler) CloseSessions(ctx context.Context) error {
	h.cancel()
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)
	response := NewResponse(requestID, data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := getRequestID(r)
	response := NewErrorResponse(requestID, code, message, details)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// getRequestID returns the id the RequestID middleware assigned.
func getRequestID(r *http.Request) string {
	if id := logger.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

// handleServiceError converts domain errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		message := de.Message
		if de.Details != "" {
			message += ": " + de.Details
		}
		h.writeError(w, r, errorCodeToHTTPStatus(de.Code), de.Code, message, nil)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		h.writeError(w, r, http.StatusGatewayTimeout, "DS-SYS-5040", "operation timed out", nil)
		return
	}

	h.logger.ErrorContext(r.Context(), "internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, "DS-SYS-5000", "internal server error", nil)
}

// errorCodeToHTTPStatus maps error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-4040"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4090"):
		return http.StatusConflict
	case strings.HasSuffix(code, "-4100"):
		return http.StatusGone
	case strings.HasSuffix(code, "-4130"):
		return http.StatusRequestEntityTooLarge
	case strings.HasSuffix(code, "-4290"):
		return http.StatusTooManyRequests
	case strings.HasSuffix(code, "-4000"):
		return http.StatusBadRequest
	case strings.HasSuffix(code, "-4010"), strings.HasSuffix(code, "-4011"):
		return http.StatusUnauthorized
	case strings.HasSuffix(code, "-4030"), strings.HasSuffix(code, "-4031"):
		return http.StatusForbidden
	case strings.HasSuffix(code, "-4220"):
		return http.StatusUnprocessableEntity
	case strings.HasPrefix(code, "DS-ARG-"):
		return http.StatusBadRequest
	case strings.HasSuffix(code, "-5030"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
