package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

func TestAllowAll(t *testing.T) {
	ctx := context.Background()
	id, err := AllowAll{}.Authenticate(ctx, "")
	if err != nil || id.Subject != "anonymous" {
		t.Fatalf("Authenticate() = %+v, %v", id, err)
	}
	got, err := AllowAll{}.Authorize(ctx, id, "any", domain.IntentWrite)
	if err != nil || got != domain.IntentWrite {
		t.Errorf("Authorize() = %v, %v", got, err)
	}
}

func newTestAuthorizer(t *testing.T) *TokenAuthorizer {
	t.Helper()
	a, err := NewTokenAuthorizer([]byte("0123456789abcdef0123"))
	if err != nil {
		t.Fatalf("NewTokenAuthorizer() error = %v", err)
	}
	a.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return a
}

func TestNewTokenAuthorizer_ShortSecret(t *testing.T) {
	if _, err := NewTokenAuthorizer([]byte("short")); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestTokenAuthorizer_Authenticate(t *testing.T) {
	a := newTestAuthorizer(t)
	valid, err := a.Issue(Claims{Subject: "ann", Documents: []string{"team-a/*"}, Write: true})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	expired, _ := a.Issue(Claims{Subject: "ann", ExpiresAt: 1_600_000_000})
	other, _ := NewTokenAuthorizer([]byte("another-secret-of-enough-length"))
	forged, _ := other.Issue(Claims{Subject: "mallory", Write: true})

	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{"valid", valid, true},
		{"expired", expired, false},
		{"wrong key", forged, false},
		{"empty", "", false},
		{"wrong prefix", strings.Replace(valid, tokenPrefix, "dst9", 1), false},
		{"tampered claims", valid[:len(tokenPrefix)+2] + "x" + valid[len(tokenPrefix)+3:], false},
		{"two parts", "dst1.abc", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := a.Authenticate(context.Background(), tt.token)
			if tt.ok {
				if err != nil {
					t.Fatalf("Authenticate() error = %v", err)
				}
				if id.Subject != "ann" || !id.Write || len(id.Documents) != 1 {
					t.Errorf("identity = %+v", id)
				}
				return
			}
			if !errors.Is(err, domain.ErrUnauthenticated) {
				t.Errorf("Authenticate() error = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestTokenAuthorizer_Authorize(t *testing.T) {
	a := newTestAuthorizer(t)
	ctx := context.Background()
	writer := Identity{Subject: "w", Documents: []string{"team-a/*", "shared"}, Write: true}
	reader := Identity{Subject: "r", Documents: []string{"team-a/*"}}
	anyDoc := Identity{Subject: "x"}

	tests := []struct {
		name    string
		id      Identity
		doc     string
		want    domain.Intent
		granted domain.Intent
		denied  bool
	}{
		{"writer in scope", writer, "team-a/notes", domain.IntentWrite, domain.IntentWrite, false},
		{"writer exact", writer, "shared", domain.IntentWrite, domain.IntentWrite, false},
		{"writer asks read", writer, "shared", domain.IntentRead, domain.IntentRead, false},
		{"writer out of scope", writer, "team-b/notes", domain.IntentRead, 0, true},
		{"glob does not cross slash", writer, "team-a/x/y", domain.IntentRead, 0, true},
		{"reader downgraded", reader, "team-a/notes", domain.IntentWrite, domain.IntentRead, false},
		{"no patterns means any doc", anyDoc, "whatever", domain.IntentWrite, domain.IntentRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Authorize(ctx, tt.id, tt.doc, tt.want)
			if tt.denied {
				if !errors.Is(err, domain.ErrAuthorizationDenied) {
					t.Errorf("Authorize() error = %v, want ErrAuthorizationDenied", err)
				}
				return
			}
			if err != nil || got != tt.granted {
				t.Errorf("Authorize() = %v, %v; want %v", got, err, tt.granted)
			}
		})
	}
}

func TestTokenAuthorizer_IssueRejectsBadInput(t *testing.T) {
	a := newTestAuthorizer(t)
	if _, err := a.Issue(Claims{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Issue() without subject error = %v", err)
	}
	if _, err := a.Issue(Claims{Subject: "s", Documents: []string{"[bad"}}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Issue() with bad pattern error = %v", err)
	}
}

func TestAdminKeys(t *testing.T) {
	hash, err := HashAdminKey("s3cret")
	if err != nil {
		t.Fatalf("HashAdminKey() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=16384,t=2,p=2$") {
		t.Errorf("hash = %q", hash)
	}

	keys := NewAdminKeys([]string{"$argon2id$garbage", hash}, time.Minute)
	if !keys.Enabled() {
		t.Error("Enabled() = false")
	}
	if !keys.Verify("s3cret") {
		t.Error("Verify() rejected the right key")
	}
	// second call hits the cache
	if !keys.Verify("s3cret") {
		t.Error("cached Verify() failed")
	}
	if keys.Verify("wrong") || keys.Verify("") {
		t.Error("Verify() accepted a wrong key")
	}

	if NewAdminKeys(nil, 0).Verify("s3cret") {
		t.Error("no hashes must reject everything")
	}
}
