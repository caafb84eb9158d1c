package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// Handshake is the first frame a client sends.
type Handshake struct {
	DocumentID  string
	Token       string
	StateVector []byte
	ReadOnly    bool
}

// Field numbers of Handshake.
const (
	fieldHandshakeDocument    protowire.Number = 1
	fieldHandshakeToken       protowire.Number = 2
	fieldHandshakeStateVector protowire.Number = 3
	fieldHandshakeReadOnly    protowire.Number = 4
)

// Encode returns the handshake frame.
func (h Handshake) Encode() Frame {
	var b []byte
	b = appendString(b, fieldHandshakeDocument, h.DocumentID)
	b = appendString(b, fieldHandshakeToken, h.Token)
	b = appendBytes(b, fieldHandshakeStateVector, h.StateVector)
	b = appendBool(b, fieldHandshakeReadOnly, h.ReadOnly)
	return Frame{Kind: KindHandshake, Payload: b}
}

// DecodeHandshake parses a client handshake payload.
func DecodeHandshake(b []byte) (Handshake, error) {
	var h Handshake
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch {
		case num == fieldHandshakeDocument && typ == protowire.BytesType:
			h.DocumentID = string(v)
		case num == fieldHandshakeToken && typ == protowire.BytesType:
			h.Token = string(v)
		case num == fieldHandshakeStateVector && typ == protowire.BytesType:
			h.StateVector = append([]byte(nil), v...)
		case num == fieldHandshakeReadOnly && typ == protowire.VarintType:
			h.ReadOnly = n != 0
		}
		return nil
	})
	if err != nil {
		return Handshake{}, domain.ErrProtocol.WithDetails("handshake: " + err.Error())
	}
	return h, nil
}

// HandshakeAck is the server's answer to a successful handshake.
type HandshakeAck struct {
	SessionID   string
	StateVector []byte
	ReadOnly    bool
}

const (
	fieldAckSession     protowire.Number = 1
	fieldAckStateVector protowire.Number = 2
	fieldAckReadOnly    protowire.Number = 3
)

// Encode returns the handshake frame.
func (a HandshakeAck) Encode() Frame {
	var b []byte
	b = appendString(b, fieldAckSession, a.SessionID)
	b = appendBytes(b, fieldAckStateVector, a.StateVector)
	b = appendBool(b, fieldAckReadOnly, a.ReadOnly)
	return Frame{Kind: KindHandshake, Payload: b}
}

// DecodeHandshakeAck parses a server handshake payload.
func DecodeHandshakeAck(b []byte) (HandshakeAck, error) {
	var a HandshakeAck
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch {
		case num == fieldAckSession && typ == protowire.BytesType:
			a.SessionID = string(v)
		case num == fieldAckStateVector && typ == protowire.BytesType:
			a.StateVector = append([]byte(nil), v...)
		case num == fieldAckReadOnly && typ == protowire.VarintType:
			a.ReadOnly = n != 0
		}
		return nil
	})
	if err != nil {
		return HandshakeAck{}, domain.ErrProtocol.WithDetails("handshake ack: " + err.Error())
	}
	return a, nil
}

// ErrorMessage is sent right before the server closes a session.
type ErrorMessage struct {
	Code    string
	Message string
}

const (
	fieldErrorCode    protowire.Number = 1
	fieldErrorMessage protowire.Number = 2
)

// Encode returns the error frame.
func (e ErrorMessage) Encode() Frame {
	var b []byte
	b = appendString(b, fieldErrorCode, e.Code)
	b = appendString(b, fieldErrorMessage, e.Message)
	return Frame{Kind: KindError, Payload: b}
}

// Error implements error so clients can return a received error frame.
func (e ErrorMessage) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DecodeError parses an error payload.
func DecodeError(b []byte) (ErrorMessage, error) {
	var e ErrorMessage
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldErrorCode:
			e.Code = string(v)
		case fieldErrorMessage:
			e.Message = string(v)
		}
		return nil
	})
	if err != nil {
		return ErrorMessage{}, domain.ErrProtocol.WithDetails("error frame: " + err.Error())
	}
	return e, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

// walk visits every field of a message. Unknown fields are skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			b = b[m:]
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return nil
}
