package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("DS-TEST-1000", "test message"),
			expected: "[DS-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("DS-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[DS-TEST-1001] test message: extra info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	wrapped := ErrPersistenceConflict.WithDetails("doc-1 at version 4")

	if !errors.Is(wrapped, ErrPersistenceConflict) {
		t.Error("errors.Is should match on code regardless of details")
	}
	if errors.Is(wrapped, ErrPersistenceUnavailable) {
		t.Error("errors.Is should not match a different code")
	}
	if errors.Is(wrapped, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}

	outer := fmt.Errorf("save doc-1: %w", wrapped)
	if !errors.Is(outer, ErrPersistenceConflict) {
		t.Error("errors.Is should see through fmt.Errorf wrapping")
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := ErrPersistenceUnavailable.WithCause(cause)

	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}
	if ErrPersistenceUnavailable.Cause != nil {
		t.Error("WithCause must not modify the sentinel")
	}
}

func TestGetErrorCode(t *testing.T) {
	if got := GetErrorCode(fmt.Errorf("wrap: %w", ErrMergeCorrupt)); got != "DS-SYNC-4220" {
		t.Errorf("GetErrorCode() = %q, want DS-SYNC-4220", got)
	}
	if got := GetErrorCode(errors.New("plain")); got != "" {
		t.Errorf("GetErrorCode(plain) = %q, want empty", got)
	}
	if !IsDomainError(ErrRoomClosed, "") {
		t.Error("IsDomainError with empty code should accept any DomainError")
	}
	if IsDomainError(ErrRoomClosed, "DS-ROOM-5030") {
		t.Error("IsDomainError should compare codes")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrPersistenceUnavailable.WithCause(errors.New("timeout")), true},
		{ErrRoomUnavailable, true},
		{ErrRoomClosed, true},
		{ErrRelayUnavailable, true},
		{ErrSendQueueFull, true},
		{ErrAuthorizationDenied, false},
		{ErrMergeCorrupt, false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateDocumentID(t *testing.T) {
	long := make([]byte, MaxDocumentIDLength+1)
	for i := range long {
		long[i] = 'a'
	}
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"doc-1", false},
		{"0195f0d2-7c1e-7000-8000-000000000000", false},
		{"spaces/team/notes", false},
		{"", true},
		{"has space", true},
		{"tab\there", true},
		{string(long), true},
		{string([]byte{0xff, 0xfe}), true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateDocumentID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDocumentID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error should be ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestIntent(t *testing.T) {
	if !IntentWrite.CanWrite() || IntentRead.CanWrite() {
		t.Error("only IntentWrite may write")
	}
	if IntentRead.String() != "read" || IntentWrite.String() != "write" || Intent(0).String() != "unknown" {
		t.Error("unexpected intent names")
	}
}
