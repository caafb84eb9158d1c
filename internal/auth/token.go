package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// tokenPrefix marks the token format version.
const tokenPrefix = "dst1"

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 16

// Claims is the signed content of an access token.
type Claims struct {
	Subject   string   `json:"sub"`
	Documents []string `json:"docs,omitempty"`
	Write     bool     `json:"write,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"` // unix seconds, 0 = never
}

// TokenAuthorizer verifies HMAC-SHA256 signed access tokens and enforces
// the grants they carry. A token looks like dst1.<claims>.<signature>,
// both parts base64url without padding.
type TokenAuthorizer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenAuthorizer creates an authorizer signing with secret.
func NewTokenAuthorizer(secret []byte) (*TokenAuthorizer, error) {
	if len(secret) < MinSecretLength {
		return nil, errors.New("auth: token secret must be at least 16 bytes")
	}
	return &TokenAuthorizer{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}, nil
}

// Issue signs claims into a token.
func (a *TokenAuthorizer) Issue(c Claims) (string, error) {
	if c.Subject == "" {
		return "", domain.ErrInvalidArgument.WithDetails("token subject is required")
	}
	for _, p := range c.Documents {
		if _, err := path.Match(p, ""); err != nil {
			return "", domain.ErrInvalidArgument.WithDetails("bad document pattern " + p)
		}
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	body := tokenPrefix + "." + base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + base64.RawURLEncoding.EncodeToString(a.sign(body)), nil
}

// Authenticate implements Authenticator.
func (a *TokenAuthorizer) Authenticate(_ context.Context, token string) (Identity, error) {
	c, err := a.verify(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Subject: c.Subject, Documents: c.Documents, Write: c.Write}, nil
}

// Authorize implements Authorizer.
func (a *TokenAuthorizer) Authorize(_ context.Context, id Identity, documentID string, want domain.Intent) (domain.Intent, error) {
	return narrow(id, documentID, want)
}

func (a *TokenAuthorizer) verify(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != tokenPrefix {
		return Claims{}, domain.ErrUnauthenticated.WithDetails("malformed token")
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Claims{}, domain.ErrUnauthenticated.WithDetails("malformed signature")
	}
	if !hmac.Equal(sig, a.sign(parts[0]+"."+parts[1])) {
		return Claims{}, domain.ErrUnauthenticated.WithDetails("bad signature")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, domain.ErrUnauthenticated.WithDetails("malformed claims")
	}
	var c Claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return Claims{}, domain.ErrUnauthenticated.WithCause(err).WithDetails("malformed claims")
	}
	if c.ExpiresAt != 0 && a.now().Unix() >= c.ExpiresAt {
		return Claims{}, domain.ErrUnauthenticated.WithDetails("token expired")
	}
	if c.Subject == "" {
		return Claims{}, domain.ErrUnauthenticated.WithDetails("token has no subject")
	}
	return c, nil
}

func (a *TokenAuthorizer) sign(body string) []byte {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}

// MatchAny reports whether documentID matches one of the glob patterns.
// Patterns use path.Match syntax, so "team-a/*" matches "team-a/notes".
func MatchAny(patterns []string, documentID string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, documentID); err == nil && ok {
			return true
		}
	}
	return false
}
