package handler

import (
	"time"

	"github.com/yndnr/docsync-go/internal/infra/buildinfo"
	"github.com/yndnr/docsync-go/internal/room"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// StatusResponse is the response body for GET /admin/v1/status.
type StatusResponse struct {
	Build          buildinfo.Info `json:"build"`
	StartedAt      time.Time      `json:"started_at"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	Rooms          int            `json:"rooms"`
	RelayAvailable bool           `json:"relay_available"`
	Closing        bool           `json:"closing"`
}

// ListRoomsResponse is the response body for GET /admin/v1/rooms.
type ListRoomsResponse struct {
	Rooms []room.Info `json:"rooms"`
	Total int         `json:"total"`
}

// FlushResponse is the response body for POST /admin/v1/rooms/{id}/flush.
type FlushResponse struct {
	DocumentID string    `json:"document_id"`
	Version    uint64    `json:"version"`
	FlushedAt  time.Time `json:"flushed_at"`
}

// SnapshotResponse is the response body for GET /admin/v1/rooms/{id}/snapshot.
// Snapshot is base64 in JSON and Checksum is 16 lowercase hex digits,
// since JSON numbers lose precision above 2^53.
type SnapshotResponse struct {
	DocumentID string    `json:"document_id"`
	Version    uint64    `json:"version"`
	Checksum   string    `json:"checksum"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
	Size       int       `json:"size"`
	Snapshot   []byte    `json:"snapshot"`
}
