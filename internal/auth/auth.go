package auth

import (
	"context"
	"strings"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// Identity is an authenticated caller.
type Identity struct {
	// Subject names the caller in logs.
	Subject string
	// Documents are glob patterns of the documents the caller may open.
	// Empty means no restriction.
	Documents []string
	// Write reports whether the caller may edit.
	Write bool
}

// Authenticator turns a handshake token into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// Authorizer decides what an identity may do with a document. It returns
// the granted intent, which may be narrower than the one requested, or
// domain.ErrAuthorizationDenied.
type Authorizer interface {
	Authorize(ctx context.Context, id Identity, documentID string, want domain.Intent) (domain.Intent, error)
}

// AllowAll accepts every token and grants every request. It is meant for
// development and for deployments that authenticate in front of docsync.
type AllowAll struct{}

// Authenticate implements Authenticator.
func (AllowAll) Authenticate(_ context.Context, token string) (Identity, error) {
	subject := strings.TrimSpace(token)
	if subject == "" {
		subject = "anonymous"
	}
	return Identity{Subject: subject, Write: true}, nil
}

// Authorize implements Authorizer.
func (AllowAll) Authorize(_ context.Context, _ Identity, _ string, want domain.Intent) (domain.Intent, error) {
	return want, nil
}

// narrow applies an identity's grants to a request.
func narrow(id Identity, documentID string, want domain.Intent) (domain.Intent, error) {
	if len(id.Documents) > 0 && !MatchAny(id.Documents, documentID) {
		return 0, domain.ErrAuthorizationDenied.WithDetails(id.Subject + " may not open " + documentID)
	}
	if want.CanWrite() && !id.Write {
		return domain.IntentRead, nil
	}
	return want, nil
}
