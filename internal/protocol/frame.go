package protocol

import (
	"fmt"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// Kind identifies the frame type.
type Kind byte

// Frame kinds.
const (
	KindHandshake Kind = 1
	KindUpdate    Kind = 2
	KindAwareness Kind = 3
	KindHeartbeat Kind = 4
	KindError     Kind = 5
)

// String returns the kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindUpdate:
		return "update"
	case KindAwareness:
		return "awareness"
	case KindHeartbeat:
		return "heartbeat"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= KindHandshake && k <= KindError
}

// Frame is one message on the transport.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Encode returns the wire form of the frame.
func (f Frame) Encode() []byte {
	b := make([]byte, 0, 1+len(f.Payload))
	b = append(b, byte(f.Kind))
	return append(b, f.Payload...)
}

// Decode parses a frame. The payload aliases b.
func Decode(b []byte) (Frame, error) {
	if len(b) == 0 {
		return Frame{}, domain.ErrProtocol.WithDetails("empty frame")
	}
	k := Kind(b[0])
	if !k.Valid() {
		return Frame{}, domain.ErrProtocol.WithDetails(fmt.Sprintf("unknown frame kind %d", b[0]))
	}
	return Frame{Kind: k, Payload: b[1:]}, nil
}

// Heartbeat returns an empty heartbeat frame.
func Heartbeat() Frame {
	return Frame{Kind: KindHeartbeat}
}

// Update wraps an update payload.
func Update(payload []byte) Frame {
	return Frame{Kind: KindUpdate, Payload: payload}
}

// Awareness wraps an awareness payload.
func Awareness(payload []byte) Frame {
	return Frame{Kind: KindAwareness, Payload: payload}
}
