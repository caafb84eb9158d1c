package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// Kind is the payload type of a relay message.
type Kind uint8

// Message kinds.
const (
	// KindUpdate carries a CRDT update.
	KindUpdate Kind = 1
	// KindAwareness carries an awareness update.
	KindAwareness Kind = 2
	// KindRoomClosed announces that the origin closed its room.
	KindRoomClosed Kind = 3
	// KindSyncRequest carries the sender's state vector and asks peers for
	// what it is missing.
	KindSyncRequest Kind = 4
	// KindSyncReply carries the replier's state vector so the requester
	// can send back what the replier is missing.
	KindSyncReply Kind = 5
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindAwareness:
		return "awareness"
	case KindRoomClosed:
		return "room-closed"
	case KindSyncRequest:
		return "sync-request"
	case KindSyncReply:
		return "sync-reply"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is the envelope exchanged between instances.
type Message struct {
	DocumentID string
	Kind       Kind
	Payload    []byte
	Origin     string
	// Target, when set, restricts the message to one instance.
	Target string
}

// Handler receives messages for one document. It runs on the backend's
// receive goroutine and must not block for long.
type Handler func(Message)

// Relay is the cross-instance channel.
type Relay interface {
	// Publish sends msg to every other subscribed instance.
	Publish(ctx context.Context, msg Message) error
	// Subscribe routes messages for documentID to h.
	Subscribe(ctx context.Context, documentID string, h Handler) error
	// Unsubscribe stops routing messages for documentID.
	Unsubscribe(ctx context.Context, documentID string) error
	// OnReconnect registers fn to run after connectivity is restored.
	OnReconnect(fn func())
	// Available reports whether the channel is currently usable.
	Available() bool
	// Close releases the backend.
	Close() error
}

const (
	fieldDocument protowire.Number = 1
	fieldKind     protowire.Number = 2
	fieldPayload  protowire.Number = 3
	fieldOrigin   protowire.Number = 4
	fieldTarget   protowire.Number = 5
)

// Encode serializes the message.
func (m Message) Encode() []byte {
	b := make([]byte, 0, len(m.DocumentID)+len(m.Payload)+len(m.Origin)+len(m.Target)+16)
	b = protowire.AppendTag(b, fieldDocument, protowire.BytesType)
	b = protowire.AppendString(b, m.DocumentID)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Kind))
	if len(m.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
	}
	b = protowire.AppendTag(b, fieldOrigin, protowire.BytesType)
	b = protowire.AppendString(b, m.Origin)
	if m.Target != "" {
		b = protowire.AppendTag(b, fieldTarget, protowire.BytesType)
		b = protowire.AppendString(b, m.Target)
	}
	return b
}

// DecodeMessage parses a message. The result does not alias b.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, malformed(protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			switch num {
			case fieldDocument:
				m.DocumentID = string(v)
			case fieldPayload:
				m.Payload = append([]byte(nil), v...)
			case fieldOrigin:
				m.Origin = string(v)
			case fieldTarget:
				m.Target = string(v)
			}
		case num == fieldKind && typ == protowire.VarintType:
			var k uint64
			k, n = protowire.ConsumeVarint(b)
			m.Kind = Kind(k)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return Message{}, malformed(protowire.ParseError(n))
		}
		b = b[n:]
	}
	if m.DocumentID == "" || m.Kind < KindUpdate || m.Kind > KindSyncReply {
		return Message{}, malformed(fmt.Errorf("missing document or bad kind %d", m.Kind))
	}
	return m, nil
}

func malformed(err error) error {
	return domain.ErrProtocol.WithCause(err).WithDetails("relay message: " + err.Error())
}

// subscriptions routes received messages to room handlers. It drops the
// instance's own messages and messages targeted at someone else.
type subscriptions struct {
	instanceID string
	logger     *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func newSubscriptions(instanceID string, logger *slog.Logger) *subscriptions {
	return &subscriptions{
		instanceID: instanceID,
		logger:     logger,
		handlers:   make(map[string]Handler),
	}
}

func (s *subscriptions) add(documentID string, h Handler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.handlers[documentID]
	s.handlers[documentID] = h
	return !existed
}

func (s *subscriptions) remove(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.handlers[documentID]
	delete(s.handlers, documentID)
	return existed
}

func (s *subscriptions) has(documentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handlers[documentID]
	return ok
}

func (s *subscriptions) documents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for id := range s.handlers {
		out = append(out, id)
	}
	return out
}

func (s *subscriptions) dispatch(msg Message) {
	if msg.Origin == s.instanceID {
		return
	}
	if msg.Target != "" && msg.Target != s.instanceID {
		return
	}
	s.mu.RLock()
	h := s.handlers[msg.DocumentID]
	s.mu.RUnlock()
	if h == nil {
		return
	}
	h(msg)
}

func (s *subscriptions) dispatchRaw(b []byte) {
	msg, err := DecodeMessage(b)
	if err != nil {
		s.logger.Warn("dropping malformed relay message", "error", err)
		return
	}
	s.dispatch(msg)
}

// hooks holds reconnect callbacks.
type hooks struct {
	mu  sync.Mutex
	fns []func()
}

func (h *hooks) add(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

func (h *hooks) fire() {
	h.mu.Lock()
	fns := append([]func(){}, h.fns...)
	h.mu.Unlock()
	for _, fn := range fns {
		go fn()
	}
}
