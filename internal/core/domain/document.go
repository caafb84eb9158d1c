package domain

import (
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxDocumentIDLength bounds document identifiers. They end up in relay
// channel names and storage keys.
const MaxDocumentIDLength = 256

// ValidateDocumentID checks that id is usable as a room key.
func ValidateDocumentID(id string) error {
	if id == "" {
		return ErrInvalidArgument.WithDetails("document id is required")
	}
	if len(id) > MaxDocumentIDLength {
		return ErrInvalidArgument.WithDetails("document id exceeds 256 bytes")
	}
	if !utf8.ValidString(id) {
		return ErrInvalidArgument.WithDetails("document id is not valid utf-8")
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return ErrInvalidArgument.WithDetails("document id contains whitespace or control characters")
		}
	}
	return nil
}

// PersistenceRecord is the durable store's view of one document.
//
// Version 0 means the document was never saved. Every successful save
// increments the version by exactly one.
type PersistenceRecord struct {
	DocumentID string
	Snapshot   []byte
	Version    uint64
	UpdatedAt  time.Time
	Checksum   uint64
}

// Intent is what a connection wants to do with a document.
type Intent int

const (
	// IntentRead allows receiving updates and sending awareness only.
	IntentRead Intent = iota + 1
	// IntentWrite additionally allows sending document updates.
	IntentWrite
)

// String returns the intent name.
func (i Intent) String() string {
	switch i {
	case IntentRead:
		return "read"
	case IntentWrite:
		return "write"
	default:
		return "unknown"
	}
}

// CanWrite reports whether the intent permits document updates.
func (i Intent) CanWrite() bool {
	return i == IntentWrite
}
