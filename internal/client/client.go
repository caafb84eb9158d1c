package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/yndnr/docsync-go/internal/awareness"
	"github.com/yndnr/docsync-go/internal/crdt"
	"github.com/yndnr/docsync-go/internal/protocol"
)

// Options configures a Client.
type Options struct {
	// Token is the access token sent in the handshake.
	Token string
	// ReadOnly asks for a read-only session.
	ReadOnly bool
	// ClientID identifies this replica's edits. Zero picks a random id.
	ClientID uint64
	// State is a snapshot from an earlier session. Edits it holds that the
	// server lacks are sent right after the handshake.
	State []byte
	// Header is sent with the upgrade request.
	Header http.Header
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Retry, when set, retries failed connection attempts that may
	// succeed later.
	Retry backoff.BackOff
	// WriteTimeout bounds every frame write. Defaults to 10s.
	WriteTimeout time.Duration

	// OnUpdate is called after a remote update changed the text.
	OnUpdate func(text string)
	// OnAwareness is called after the presence of other sessions changed.
	OnAwareness func(peers map[string]map[string]string)

	Logger *slog.Logger
}

// Client is one sync connection with a local replica of the document.
type Client struct {
	documentID string
	sessionID  string
	readOnly   bool
	opts       Options
	ws         *websocket.Conn
	logger     *slog.Logger

	mu    sync.Mutex
	doc   *crdt.Doc
	peers map[string]map[string]string

	writeMu sync.Mutex

	done    chan struct{}
	errMu   sync.Mutex
	err     error
	closeMu sync.Once
}

// SyncURL returns the WebSocket URL of documentID on the server at base.
// http and https bases are mapped to ws and wss.
func SyncURL(base, documentID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	// Path holds the decoded form and RawPath the escaped one, so a slash
	// inside documentID stays within its segment.
	escaped := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/documents/" + documentID + "/sync"
	u.RawPath = escaped + "/v1/documents/" + url.PathEscape(documentID) + "/sync"
	return u.String(), nil
}

// Dial connects to the server at base and joins documentID. It returns
// once the handshake completed and the catch-up update was applied.
func Dial(ctx context.Context, base, documentID string, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.ClientID == 0 {
		opts.ClientID = rand.Uint64()
	}
	target, err := SyncURL(base, documentID)
	if err != nil {
		return nil, err
	}

	if opts.Retry == nil {
		return dial(ctx, target, documentID, opts)
	}
	var c *Client
	err = backoff.RetryNotify(func() error {
		var err error
		c, err = dial(ctx, target, documentID, opts)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(opts.Retry, ctx), func(err error, wait time.Duration) {
		opts.Logger.Warn("sync connection failed, retrying", "document_id", documentID, "error", err, "wait", wait)
	})
	return c, err
}

func dial(ctx context.Context, target, documentID string, opts Options) (*Client, error) {
	doc := crdt.New(opts.ClientID)
	if len(opts.State) > 0 {
		if err := doc.LoadSnapshot(opts.State); err != nil {
			return nil, fmt.Errorf("client: load state: %w", err)
		}
	}

	ws, resp, err := opts.Dialer.DialContext(ctx, target, opts.Header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("client: dial %s: %w", target, err)
	}

	c := &Client{
		documentID: documentID,
		opts:       opts,
		ws:         ws,
		logger:     opts.Logger.With("document_id", documentID),
		doc:        doc,
		peers:      make(map[string]map[string]string),
		done:       make(chan struct{}),
	}
	if err := c.handshake(ctx); err != nil {
		ws.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

// handshake sends the handshake and consumes the ack and the catch-up update.
func (c *Client) handshake(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(deadline)
		defer c.ws.SetReadDeadline(time.Time{})
	}
	hs := protocol.Handshake{
		DocumentID:  c.documentID,
		Token:       c.opts.Token,
		StateVector: c.doc.StateVector().Encode(),
		ReadOnly:    c.opts.ReadOnly,
	}
	if err := c.write(hs.Encode()); err != nil {
		return err
	}

	f, err := c.read()
	if err != nil {
		return err
	}
	if f.Kind != protocol.KindHandshake {
		return fmt.Errorf("client: expected handshake ack, got %s", f.Kind)
	}
	ack, err := protocol.DecodeHandshakeAck(f.Payload)
	if err != nil {
		return err
	}
	c.sessionID = ack.SessionID
	c.readOnly = ack.ReadOnly

	f, err = c.read()
	if err != nil {
		return err
	}
	if f.Kind != protocol.KindUpdate {
		return fmt.Errorf("client: expected catch-up update, got %s", f.Kind)
	}
	if _, err := c.doc.Apply(f.Payload); err != nil {
		return err
	}

	// send what the server is missing
	if c.readOnly || len(c.opts.State) == 0 {
		return nil
	}
	diff, err := c.doc.DiffSince(ack.StateVector)
	if err != nil {
		return err
	}
	return c.write(protocol.Update(diff))
}

// read returns the next frame. An error frame becomes a protocol.ErrorMessage.
func (c *Client) read() (protocol.Frame, error) {
	for {
		mt, b, err := c.ws.ReadMessage()
		if err != nil {
			return protocol.Frame{}, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		f, err := protocol.Decode(b)
		if err != nil {
			return protocol.Frame{}, err
		}
		if f.Kind == protocol.KindError {
			msg, err := protocol.DecodeError(f.Payload)
			if err != nil {
				return protocol.Frame{}, err
			}
			return protocol.Frame{}, msg
		}
		return f, nil
	}
}

func (c *Client) write(f protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, f.Encode())
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		f, err := c.read()
		if err != nil {
			c.setErr(err)
			c.ws.Close()
			return
		}
		switch f.Kind {
		case protocol.KindUpdate:
			c.mu.Lock()
			delta, err := c.doc.Apply(f.Payload)
			text := c.doc.Text()
			c.mu.Unlock()
			if err != nil {
				c.logger.Error("rejected server update", "error", err)
				c.setErr(err)
				c.ws.Close()
				return
			}
			if !delta.Empty() && c.opts.OnUpdate != nil {
				c.opts.OnUpdate(text)
			}
		case protocol.KindAwareness:
			entries, err := awareness.Decode(f.Payload)
			if err != nil {
				c.logger.Warn("ignoring awareness update", "error", err)
				continue
			}
			c.mu.Lock()
			for _, e := range entries {
				if e.Removed {
					delete(c.peers, e.Session)
				} else {
					c.peers[e.Session] = e.State
				}
			}
			peers := c.peersLocked()
			c.mu.Unlock()
			if c.opts.OnAwareness != nil {
				c.opts.OnAwareness(peers)
			}
		case protocol.KindHeartbeat:
			if err := c.write(protocol.Heartbeat()); err != nil {
				c.setErr(err)
				c.ws.Close()
				return
			}
		}
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// SessionID returns the id the server assigned to this connection.
func (c *Client) SessionID() string { return c.sessionID }

// ReadOnly reports whether the server granted read access only.
func (c *Client) ReadOnly() bool { return c.readOnly }

// Text returns the local replica's text.
func (c *Client) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Text()
}

// Snapshot returns the local replica's state, usable as Options.State.
func (c *Client) Snapshot() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Snapshot()
}

// Insert inserts text at rune position pos and sends the edit.
func (c *Client) Insert(pos int, text string) error {
	return c.edit(func(d *crdt.Doc) ([]byte, error) { return d.Insert(pos, text) })
}

// Delete removes n runes starting at pos and sends the edit.
func (c *Client) Delete(pos, n int) error {
	return c.edit(func(d *crdt.Doc) ([]byte, error) { return d.Delete(pos, n) })
}

// Append inserts text at the end of the document.
func (c *Client) Append(text string) error {
	return c.edit(func(d *crdt.Doc) ([]byte, error) { return d.Insert(d.Len(), text) })
}

func (c *Client) edit(fn func(*crdt.Doc) ([]byte, error)) error {
	if c.readOnly {
		return errors.New("client: session is read-only")
	}
	if err := c.Err(); err != nil {
		return err
	}
	// the lock spans the write so edits reach the server in local order
	c.mu.Lock()
	defer c.mu.Unlock()
	upd, err := fn(c.doc)
	if err != nil {
		return err
	}
	return c.write(protocol.Update(upd))
}

// SetAwareness publishes this session's presence state.
func (c *Client) SetAwareness(state map[string]string) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.write(protocol.Awareness(b))
}

// Peers returns the presence states of the other sessions.
func (c *Client) Peers() map[string]map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peersLocked()
}

func (c *Client) peersLocked() map[string]map[string]string {
	out := make(map[string]map[string]string, len(c.peers))
	for id, st := range c.peers {
		if id == c.sessionID {
			continue
		}
		out[id] = st
	}
	return out
}

// Done is closed when the connection ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil while it is open. A
// server-initiated close returns a protocol.ErrorMessage.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close ends the connection.
func (c *Client) Close() error {
	c.closeMu.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		select {
		case <-c.done:
		case <-time.After(2 * time.Second):
		}
		c.ws.Close()
	})
	<-c.done
	return nil
}

// StatusError is an upgrade request the server answered with a plain HTTP
// response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: upgrade rejected with HTTP %d", e.StatusCode)
}

// Retryable reports whether a failed connection attempt may succeed if
// repeated unchanged.
func Retryable(err error) bool {
	var msg protocol.ErrorMessage
	if errors.As(err, &msg) {
		return msg.Code == protocol.CodeUnavailable || msg.Code == protocol.CodeResync
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	var ne net.Error
	return errors.As(err, &ne)
}
