package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    Frame
		wantErr bool
	}{
		{"update", []byte{2, 0xaa, 0xbb}, Frame{Kind: KindUpdate, Payload: []byte{0xaa, 0xbb}}, false},
		{"heartbeat", []byte{4}, Frame{Kind: KindHeartbeat, Payload: []byte{}}, false},
		{"empty", nil, Frame{}, true},
		{"unknown kind", []byte{9, 1}, Frame{}, true},
		{"zero kind", []byte{0}, Frame{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, domain.ErrProtocol) {
					t.Errorf("error should be ErrProtocol, got %v", err)
				}
				return
			}
			if got.Kind != tt.want.Kind || !bytes.Equal(got.Payload, tt.want.Payload) {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFrame_Encode(t *testing.T) {
	f := Update([]byte("abc"))
	if got := f.Encode(); !bytes.Equal(got, []byte{2, 'a', 'b', 'c'}) {
		t.Errorf("Encode() = %v", got)
	}
	if got := Heartbeat().Encode(); !bytes.Equal(got, []byte{4}) {
		t.Errorf("Heartbeat().Encode() = %v", got)
	}
}

func TestHandshake(t *testing.T) {
	in := Handshake{DocumentID: "doc-1", Token: "t0k", StateVector: []byte{1, 5, 3}, ReadOnly: true}
	f := in.Encode()
	if f.Kind != KindHandshake {
		t.Fatalf("Kind = %v, want handshake", f.Kind)
	}
	got, err := DecodeHandshake(f.Payload)
	if err != nil {
		t.Fatalf("DecodeHandshake() error = %v", err)
	}
	if got.DocumentID != in.DocumentID || got.Token != in.Token || !bytes.Equal(got.StateVector, in.StateVector) || !got.ReadOnly {
		t.Errorf("DecodeHandshake() = %+v, want %+v", got, in)
	}

	// unknown fields from newer clients are skipped
	extra := append(append([]byte{}, f.Payload...), 0x48, 0x01) // field 9, varint 1
	if _, err := DecodeHandshake(extra); err != nil {
		t.Errorf("unknown field should be ignored, got %v", err)
	}

	if _, err := DecodeHandshake([]byte{0x0a, 0x10, 'x'}); !errors.Is(err, domain.ErrProtocol) {
		t.Errorf("truncated handshake error = %v, want ErrProtocol", err)
	}
}

func TestHandshakeAck(t *testing.T) {
	in := HandshakeAck{SessionID: "01J00000000000000000000000", StateVector: []byte{0}}
	got, err := DecodeHandshakeAck(in.Encode().Payload)
	if err != nil {
		t.Fatalf("DecodeHandshakeAck() error = %v", err)
	}
	if got.SessionID != in.SessionID || !bytes.Equal(got.StateVector, in.StateVector) || got.ReadOnly {
		t.Errorf("DecodeHandshakeAck() = %+v, want %+v", got, in)
	}
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{domain.ErrAuthorizationDenied, CodeForbidden},
		{domain.ErrUnauthenticated.WithDetails("expired"), CodeUnauthenticated},
		{fmt.Errorf("apply: %w", domain.ErrMergeCorrupt), CodeCorrupt},
		{domain.ErrReadOnly, CodeReadOnly},
		{domain.ErrPayloadTooLarge, CodeTooLarge},
		{domain.ErrRateLimited, CodeRateLimited},
		{domain.ErrResync, CodeResync},
		{domain.ErrProtocol, CodeProtocol},
		{domain.ErrInvalidArgument, CodeProtocol},
		{domain.ErrRoomUnavailable, CodeUnavailable},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			msg := ErrorFor(tt.err)
			if msg.Code != tt.code {
				t.Errorf("ErrorFor(%v).Code = %q, want %q", tt.err, msg.Code, tt.code)
			}
			got, err := DecodeError(msg.Encode().Payload)
			if err != nil {
				t.Fatalf("DecodeError() error = %v", err)
			}
			if got != msg {
				t.Errorf("DecodeError() = %+v, want %+v", got, msg)
			}
		})
	}
}
