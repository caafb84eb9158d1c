// Package domain defines the core domain values for docsync.
package domain

import (
	"errors"
	"fmt"
)

// DomainError is an error with a stable, machine-readable code.
//
// Codes have the form DS-<AREA>-<NNNN>. The last four digits loosely follow
// HTTP status semantics so transports can map them without a lookup table.
type DomainError struct {
	Code    string // Error code (e.g., "DS-STOR-4090")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsRetryable reports whether the caller may retry the failed operation
// later without changing its input.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrPersistenceUnavailable),
		errors.Is(err, ErrRoomUnavailable),
		errors.Is(err, ErrRoomClosed),
		errors.Is(err, ErrRelayUnavailable),
		errors.Is(err, ErrSendQueueFull),
		errors.Is(err, ErrRateLimited):
		return true
	}
	return false
}

// Access errors.
var (
	// ErrUnauthenticated indicates the identity token is missing or invalid.
	ErrUnauthenticated = NewDomainError("DS-AUTH-4010", "unauthenticated")

	// ErrAuthorizationDenied indicates the access-control collaborator refused
	// the connection. The engine never retries it.
	ErrAuthorizationDenied = NewDomainError("DS-AUTH-4030", "authorization denied")
)

// Sync errors. All of them terminate the session that caused them.
var (
	// ErrProtocol indicates a malformed or unexpected frame.
	ErrProtocol = NewDomainError("DS-SYNC-4000", "protocol error")

	// ErrReadOnly indicates an update was sent on a read-only session.
	ErrReadOnly = NewDomainError("DS-SYNC-4031", "session is read-only")

	// ErrPayloadTooLarge indicates a frame exceeded the configured limit.
	ErrPayloadTooLarge = NewDomainError("DS-SYNC-4130", "payload too large")

	// ErrMergeCorrupt indicates an update could not be decoded with the
	// current codec version. Clients must re-handshake.
	ErrMergeCorrupt = NewDomainError("DS-SYNC-4220", "corrupt update")

	// ErrRateLimited indicates the session sent updates faster than allowed.
	ErrRateLimited = NewDomainError("DS-SYNC-4290", "too many updates")

	// ErrResync indicates the room failed and the client must reconnect
	// with a fresh state vector.
	ErrResync = NewDomainError("DS-SYNC-5000", "room reset, resync required")
)

// Storage errors. Neither terminates active sessions.
var (
	// ErrPersistenceConflict indicates the stored version moved since it was
	// last read (another instance saved first).
	ErrPersistenceConflict = NewDomainError("DS-STOR-4090", "persistence version conflict")

	// ErrPersistenceUnavailable indicates the durable store could not be
	// reached within the retry budget.
	ErrPersistenceUnavailable = NewDomainError("DS-STOR-5030", "persistence unavailable")

	// ErrSnapshotCorrupt indicates a stored snapshot failed its checksum.
	ErrSnapshotCorrupt = NewDomainError("DS-STOR-5001", "stored snapshot corrupt")
)

// Relay errors.
var (
	// ErrRelayUnavailable indicates the cross-instance channel is down. The
	// instance keeps serving its local clients.
	ErrRelayUnavailable = NewDomainError("DS-RLAY-5030", "relay unavailable")
)

// Room errors.
var (
	// ErrRoomUnavailable indicates the room could not be hydrated.
	ErrRoomUnavailable = NewDomainError("DS-ROOM-5030", "room unavailable")

	// ErrRoomClosed indicates the room closed while the caller was using it.
	ErrRoomClosed = NewDomainError("DS-ROOM-4100", "room closed")

	// ErrRoomNotFound indicates no room is open for the document.
	ErrRoomNotFound = NewDomainError("DS-ROOM-4040", "room not found")
)

// Session errors.
var (
	// ErrTransportClosed marks a normal connection close. It drives teardown
	// and is not reported as a failure.
	ErrTransportClosed = NewDomainError("DS-SESS-4990", "transport closed")

	// ErrSendQueueFull indicates the peer did not read fast enough and its
	// outbound queue overflowed.
	ErrSendQueueFull = NewDomainError("DS-SESS-5031", "send queue full")
)

// Argument errors.
var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("DS-ARG-1001", "invalid argument")
)
