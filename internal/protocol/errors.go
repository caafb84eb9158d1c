package protocol

import (
	"errors"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// Error codes carried by error frames.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeProtocol        = "protocol"
	CodeCorrupt         = "corrupt"
	CodeReadOnly        = "readonly"
	CodeTooLarge        = "too_large"
	CodeRateLimited     = "rate_limited"
	CodeResync          = "resync"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal"
)

// ErrorFor maps a session-terminating error to the frame sent to the peer.
func ErrorFor(err error) ErrorMessage {
	code := CodeInternal
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		code = CodeUnauthenticated
	case errors.Is(err, domain.ErrAuthorizationDenied):
		code = CodeForbidden
	case errors.Is(err, domain.ErrMergeCorrupt):
		code = CodeCorrupt
	case errors.Is(err, domain.ErrReadOnly):
		code = CodeReadOnly
	case errors.Is(err, domain.ErrPayloadTooLarge):
		code = CodeTooLarge
	case errors.Is(err, domain.ErrRateLimited):
		code = CodeRateLimited
	case errors.Is(err, domain.ErrResync):
		code = CodeResync
	case errors.Is(err, domain.ErrProtocol), errors.Is(err, domain.ErrInvalidArgument):
		code = CodeProtocol
	case domain.IsRetryable(err):
		code = CodeUnavailable
	}
	msg := err.Error()
	var de *domain.DomainError
	if errors.As(err, &de) {
		msg = de.Message
		if de.Details != "" {
			msg += ": " + de.Details
		}
	}
	return ErrorMessage{Code: code, Message: msg}
}
