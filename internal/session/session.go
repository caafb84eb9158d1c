package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/docsync-go/internal/auth"
	"github.com/yndnr/docsync-go/internal/core/domain"
	"github.com/yndnr/docsync-go/internal/protocol"
	"github.com/yndnr/docsync-go/internal/room"
	"github.com/yndnr/docsync-go/internal/telemetry/metric"
)

// Conn is a message-oriented transport connection. Read and Write are
// called from one goroutine each.
type Conn interface {
	// Read returns the next binary message.
	Read() ([]byte, error)
	// Write sends one binary message.
	Write(b []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Rooms is the part of the room manager a session uses.
type Rooms interface {
	Join(ctx context.Context, documentID string, peer room.Peer, opts room.JoinOptions) (*room.Handle, error)
}

// Handler serves client connections.
type Handler struct {
	cfg     Config
	rooms   Rooms
	authn   auth.Authenticator
	authz   auth.Authorizer
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewHandler creates a connection handler.
func NewHandler(cfg Config, rooms Rooms, authn auth.Authenticator, authz auth.Authorizer, logger *slog.Logger, metrics *metric.Metrics) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = metric.NewNop()
	}
	return &Handler{
		cfg:     cfg,
		rooms:   rooms,
		authn:   authn,
		authz:   authz,
		logger:  logger.With("component", "session"),
		metrics: metrics,
	}, nil
}

// session is one client connection. It implements room.Peer.
type session struct {
	id     string
	conn   Conn
	cfg    Config
	logger *slog.Logger

	out        chan []byte
	closed     chan struct{}
	writerDone chan struct{}

	mu      sync.Mutex
	reason  error
	final   []byte
	closing bool
}

func newSession(conn Conn, cfg Config, logger *slog.Logger) *session {
	id := ulid.Make().String()
	return &session{
		id:         id,
		conn:       conn,
		cfg:        cfg,
		logger:     logger.With("session_id", id),
		out:        make(chan []byte, cfg.SendQueueSize),
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// SessionID implements room.Peer.
func (s *session) SessionID() string { return s.id }

// Deliver implements room.Peer. A full queue disconnects the session.
func (s *session) Deliver(f protocol.Frame) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.out <- f.Encode():
	default:
		s.fail(domain.ErrSendQueueFull)
	}
}

// Terminate implements room.Peer.
func (s *session) Terminate(err error) {
	s.fail(err)
}

// fail closes the session. The first error wins; unless it is a normal
// transport close, the peer is told why in a final error frame.
func (s *session) fail(err error) {
	if err == nil {
		err = domain.ErrTransportClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	s.closing = true
	s.reason = err
	if !errors.Is(err, domain.ErrTransportClosed) {
		s.final = protocol.ErrorFor(err).Encode().Encode()
	}
	close(s.closed)
}

func (s *session) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// writeLoop owns writes and closes the connection on exit.
func (s *session) writeLoop() {
	defer close(s.writerDone)
	defer s.conn.Close()
	for {
		select {
		case b := <-s.out:
			if err := s.write(b); err != nil {
				s.fail(domain.ErrTransportClosed.WithCause(err))
				return
			}
		case <-s.closed:
			s.mu.Lock()
			final := s.final
			s.mu.Unlock()
			if final != nil {
				_ = s.write(final)
			}
			return
		}
	}
}

func (s *session) write(b []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.Write(b)
}

func (s *session) heartbeatLoop() {
	t := time.NewTicker(s.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Deliver(protocol.Heartbeat())
		case <-s.closed:
			return
		}
	}
}

// read returns the next frame, enforcing the deadline and payload limit.
func (s *session) read(timeout time.Duration) (protocol.Frame, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return protocol.Frame{}, domain.ErrTransportClosed.WithCause(err)
	}
	b, err := s.conn.Read()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return protocol.Frame{}, domain.ErrTransportClosed.WithCause(err).WithDetails("read timeout")
		}
		return protocol.Frame{}, domain.ErrTransportClosed.WithCause(err)
	}
	if len(b)-1 > s.cfg.MaxPayloadSize {
		return protocol.Frame{}, domain.ErrPayloadTooLarge.WithDetails("frame exceeds the payload limit")
	}
	return protocol.Decode(b)
}

// Serve runs one connection until it closes. A normal close returns nil.
func (h *Handler) Serve(ctx context.Context, conn Conn) error {
	return h.ServeDocument(ctx, conn, "")
}

// ServeDocument is Serve for a connection bound to one document, such as
// one opened on a per-document URL. A handshake naming any other document
// is a protocol error. An empty documentID accepts any document.
func (h *Handler) ServeDocument(ctx context.Context, conn Conn, documentID string) error {
	s := newSession(conn, h.cfg, h.logger)
	go s.writeLoop()

	start := time.Now()
	s.fail(h.run(ctx, s, documentID))
	<-s.writerDone

	reason := s.err()
	label := "closed"
	if !errors.Is(reason, domain.ErrTransportClosed) {
		label = protocol.ErrorFor(reason).Code
	}
	h.metrics.SessionsClosed.WithLabelValues(label).Inc()
	s.logger.Debug("session closed", "reason", label, "error", reason, "duration", time.Since(start))

	if label == "closed" {
		return nil
	}
	return reason
}

func (h *Handler) run(ctx context.Context, s *session, documentID string) error {
	// 1. Handshake
	f, err := s.read(h.cfg.HandshakeTimeout)
	if err != nil {
		return err
	}
	if f.Kind != protocol.KindHandshake {
		return domain.ErrProtocol.WithDetails("first frame must be a handshake, got " + f.Kind.String())
	}
	hs, err := protocol.DecodeHandshake(f.Payload)
	if err != nil {
		return err
	}
	if err := domain.ValidateDocumentID(hs.DocumentID); err != nil {
		return err
	}
	if documentID != "" && hs.DocumentID != documentID {
		return domain.ErrProtocol.WithDetails("handshake names a different document than the connection")
	}

	// 2. Access control
	id, err := h.authn.Authenticate(ctx, hs.Token)
	if err != nil {
		h.logger.Info("handshake rejected", "document_id", hs.DocumentID, "error", err)
		return err
	}
	want := domain.IntentWrite
	if hs.ReadOnly {
		want = domain.IntentRead
	}
	intent, err := h.authz.Authorize(ctx, id, hs.DocumentID, want)
	if err != nil {
		h.logger.Info("handshake denied", "document_id", hs.DocumentID, "subject", id.Subject, "error", err)
		return err
	}
	s.logger = s.logger.With("document_id", hs.DocumentID, "subject", id.Subject)

	// 3. Join the room; it delivers the handshake ack, catch-up and presence
	joinCtx, cancel := context.WithTimeout(ctx, h.cfg.JoinTimeout)
	handle, err := h.rooms.Join(joinCtx, hs.DocumentID, s, room.JoinOptions{
		StateVector: hs.StateVector,
		Intent:      intent,
	})
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.ErrRoomUnavailable.WithCause(err).WithDetails("join timed out")
		}
		return err
	}
	defer handle.Leave()

	h.metrics.Sessions.Inc()
	defer h.metrics.Sessions.Dec()
	s.logger.Debug("session joined", "intent", intent.String())

	go s.heartbeatLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.fail(domain.ErrRoomUnavailable.WithDetails("server shutting down"))
		case <-s.closed:
		}
	}()

	// 4. Ingest frames in receive order
	limiter := rate.NewLimiter(rate.Limit(h.cfg.UpdateRate), h.cfg.UpdateBurst)
	for {
		f, err := s.read(h.cfg.idleTimeout())
		if err != nil {
			return err
		}
		switch f.Kind {
		case protocol.KindUpdate:
			if handle.ReadOnly() {
				return domain.ErrReadOnly
			}
			if !limiter.Allow() {
				return domain.ErrRateLimited.WithDetails("update rate exceeded")
			}
			if err := handle.Update(ctx, f.Payload); err != nil {
				return err
			}
		case protocol.KindAwareness:
			if err := handle.Awareness(ctx, f.Payload); err != nil {
				return err
			}
		case protocol.KindHeartbeat:
		case protocol.KindError:
			msg, _ := protocol.DecodeError(f.Payload)
			s.logger.Debug("peer reported an error", "code", msg.Code, "message", msg.Message)
			return domain.ErrTransportClosed
		default:
			return domain.ErrProtocol.WithDetails("unexpected " + f.Kind.String() + " frame")
		}
	}
}
