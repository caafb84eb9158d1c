package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yndnr/docsync-go/internal/auth"
	"github.com/yndnr/docsync-go/internal/core/domain"
	"github.com/yndnr/docsync-go/internal/crdt"
	"github.com/yndnr/docsync-go/internal/protocol"
	"github.com/yndnr/docsync-go/internal/relay"
	"github.com/yndnr/docsync-go/internal/room"
	"github.com/yndnr/docsync-go/internal/session"
	"github.com/yndnr/docsync-go/internal/storage"
)

type testEnv struct {
	handler *Handler
	rooms   *room.Manager
	store   *storage.MemoryStore
	relay   *relay.LocalRelay
	server  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	rcfg := room.DefaultConfig()
	rcfg.InstanceID = "http-test"
	rcfg.GracePeriod = time.Minute
	store := storage.NewMemoryStore()
	rl := relay.NewBus().Join(rcfg.InstanceID, slog.Default())
	rooms, err := room.NewManager(rcfg, store, rl, slog.Default(), nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	sessions, err := session.NewHandler(session.DefaultConfig(), rooms, auth.AllowAll{}, auth.AllowAll{}, slog.Default(), nil)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	h := New(Config{
		Rooms:          rooms,
		Sessions:       sessions,
		RelayAvailable: rl.Available,
		MaxMessageSize: 1 << 20,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rooms.Close(ctx)
		_ = h.CloseSessions(ctx)
		_ = rl.Close()
	})
	return &testEnv{handler: h, rooms: rooms, store: store, relay: rl, server: srv}
}

// dial opens a sync connection and completes the handshake.
func (e *testEnv) dial(t *testing.T, documentID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/v1/documents/" + documentID + "/sync"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v (response %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })

	hs := protocol.Handshake{DocumentID: documentID, Token: "ann"}.Encode()
	if err := ws.WriteMessage(websocket.BinaryMessage, hs.Encode()); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if f := readFrame(t, ws); f.Kind != protocol.KindHandshake {
		t.Fatalf("first frame = %v, want handshake ack", f.Kind)
	}
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) protocol.Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, b, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", mt)
	}
	f, err := protocol.Decode(b)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return f
}

func (e *testEnv) do(t *testing.T, method, path string) (*http.Response, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	// data stays raw so numbers keep their precision until decodeData
	var raw json.RawMessage
	body := Response{Data: &raw}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
	body.Data = raw
	return w.Result(), body
}

// decodeData decodes the envelope data into v.
func decodeData(t *testing.T, body Response, v any) {
	t.Helper()
	raw, _ := body.Data.(json.RawMessage)
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode data %s: %v", raw, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health")
	if resp.StatusCode != http.StatusOK || body.Code != "OK" {
		t.Errorf("/health = %d %+v", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodGet, "/ready")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/ready = %d, want 200", resp.StatusCode)
	}

	env.relay.SetAvailable(false)
	resp, body = env.do(t, http.MethodGet, "/ready")
	if resp.StatusCode != http.StatusServiceUnavailable || body.Code != "DS-RLAY-5030" {
		t.Errorf("/ready with relay down = %d %+v", resp.StatusCode, body)
	}
	env.relay.SetAvailable(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = env.rooms.Close(ctx)
	resp, body = env.do(t, http.MethodGet, "/ready")
	if resp.StatusCode != http.StatusServiceUnavailable || body.Code != "DS-ROOM-5030" {
		t.Errorf("/ready while closing = %d %+v", resp.StatusCode, body)
	}
}

func TestSyncAndAdmin(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "notes")
	b := env.dial(t, "notes")

	doc := crdt.New(7)
	upd, err := doc.Insert(0, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.WriteMessage(websocket.BinaryMessage, protocol.Update(upd).Encode()); err != nil {
		t.Fatal(err)
	}

	replica := crdt.New(8)
	for replica.Text() != "hello" {
		f := readFrame(t, b)
		if f.Kind != protocol.KindUpdate {
			continue
		}
		if _, err := replica.Apply(f.Payload); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}

	// list
	resp, body := env.do(t, http.MethodGet, "/admin/v1/rooms")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list rooms = %d %+v", resp.StatusCode, body)
	}
	var list ListRoomsResponse
	decodeData(t, body, &list)
	if list.Total != 1 || list.Rooms[0].DocumentID != "notes" || list.Rooms[0].Peers != 2 {
		t.Errorf("rooms = %+v", list)
	}

	// get
	var info room.Info
	resp, body = env.do(t, http.MethodGet, "/admin/v1/rooms/notes")
	decodeData(t, body, &info)
	if resp.StatusCode != http.StatusOK || info.Length != 5 {
		t.Errorf("room = %d %+v", resp.StatusCode, info)
	}

	// flush
	resp, body = env.do(t, http.MethodPost, "/admin/v1/rooms/notes/flush")
	var flushed FlushResponse
	decodeData(t, body, &flushed)
	if resp.StatusCode != http.StatusOK || flushed.Version != 1 {
		t.Errorf("flush = %d %+v", resp.StatusCode, flushed)
	}
	rec, err := env.store.Load(context.Background(), "notes")
	if err != nil || rec == nil || rec.Version != 1 {
		t.Fatalf("stored record = %+v, %v", rec, err)
	}

	// snapshot
	resp, body = env.do(t, http.MethodGet, "/admin/v1/rooms/notes/snapshot")
	var snap SnapshotResponse
	decodeData(t, body, &snap)
	// the 64-bit checksum travels as hex so JSON number precision cannot round it
	if want := fmt.Sprintf(`"checksum":"%016x"`, storage.Checksum(snap.Snapshot)); !strings.Contains(string(body.Data.(json.RawMessage)), want) {
		t.Errorf("snapshot data %s does not carry %s", body.Data, want)
	}
	if resp.StatusCode != http.StatusOK || snap.Version != 1 || snap.Checksum != fmt.Sprintf("%016x", storage.Checksum(snap.Snapshot)) {
		t.Fatalf("snapshot = %d %+v", resp.StatusCode, snap)
	}
	loaded := crdt.New(9)
	if err := loaded.LoadSnapshot(snap.Snapshot); err != nil || loaded.Text() != "hello" {
		t.Errorf("snapshot text = %q, %v", loaded.Text(), err)
	}

	// status
	resp, body = env.do(t, http.MethodGet, "/admin/v1/status")
	var status StatusResponse
	decodeData(t, body, &status)
	if resp.StatusCode != http.StatusOK || status.Rooms != 1 || !status.RelayAvailable {
		t.Errorf("status = %d %+v", resp.StatusCode, status)
	}
}

func TestSync_HandshakeForOtherDocument(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/documents/notes/sync"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	hs := protocol.Handshake{DocumentID: "other", Token: "ann"}.Encode()
	if err := ws.WriteMessage(websocket.BinaryMessage, hs.Encode()); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, ws)
	msg, err := protocol.DecodeError(f.Payload)
	if f.Kind != protocol.KindError || err != nil || msg.Code != protocol.CodeProtocol {
		t.Errorf("frame = %v %+v %v, want protocol error", f.Kind, msg, err)
	}
}

func TestSync_CloseSessions(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t, "notes")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.handler.CloseSessions(ctx); err != nil {
		t.Fatalf("CloseSessions() error = %v", err)
	}

	// the session reports the shutdown before the socket closes
	for {
		f := readFrame(t, ws)
		if f.Kind != protocol.KindError {
			continue
		}
		msg, _ := protocol.DecodeError(f.Payload)
		if msg.Code != protocol.CodeUnavailable {
			t.Errorf("error code = %q, want %q", msg.Code, protocol.CodeUnavailable)
		}
		break
	}
	waitFor(t, func() bool {
		info, err := env.rooms.Room(context.Background(), "notes")
		return err != nil || info.Peers == 0
	})
}

func TestSync_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	// not a websocket request
	resp, err := http.Get(env.server.URL + "/v1/documents/notes/sync")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("plain GET = %d, want 400", resp.StatusCode)
	}

	// foreign origin
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/documents/notes/sync"
	_, resp, err = websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	if err == nil {
		t.Fatal("Dial() with foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign origin response = %v", resp)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin", nil, "", "docs.example", true},
		{"same origin", nil, "https://docs.example", "docs.example", true},
		{"cross origin", nil, "https://evil.example", "docs.example", false},
		{"listed", []string{"https://app.example"}, "https://app.example", "docs.example", true},
		{"wildcard", []string{"*"}, "https://evil.example", "docs.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://"+tt.host+"/v1/documents/a/sync", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := checkOrigin(tt.allowed)(r); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

// fakeRooms fails every call with err.
type fakeRooms struct {
	err error
}

func (f fakeRooms) Rooms(context.Context) ([]room.Info, error) { return nil, f.err }
func (f fakeRooms) Room(context.Context, string) (room.Info, error) { return room.Info{}, f.err }
func (f fakeRooms) Flush(context.Context, string) error { return f.err }
func (f fakeRooms) Len() int { return 0 }
func (f fakeRooms) Closing() bool { return false }
func (f fakeRooms) Snapshot(context.Context, string) (*domain.PersistenceRecord, error) {
	return nil, f.err
}

func TestAdmin_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		err      error
		wantCode string
		want     int
	}{
		{"not found", http.MethodGet, "/admin/v1/rooms/notes", domain.ErrRoomNotFound, "DS-ROOM-4040", http.StatusNotFound},
		{"store down", http.MethodPost, "/admin/v1/rooms/notes/flush", domain.ErrPersistenceUnavailable, "DS-STOR-5030", http.StatusServiceUnavailable},
		{"conflict", http.MethodPost, "/admin/v1/rooms/notes/flush", domain.ErrPersistenceConflict, "DS-STOR-4090", http.StatusConflict},
		{"corrupt", http.MethodGet, "/admin/v1/rooms/notes/snapshot", domain.ErrSnapshotCorrupt, "DS-STOR-5001", http.StatusInternalServerError},
		{"timeout", http.MethodGet, "/admin/v1/rooms", context.DeadlineExceeded, "DS-SYS-5040", http.StatusGatewayTimeout},
		{"opaque", http.MethodGet, "/admin/v1/rooms", errors.New("boom"), "DS-SYS-5000", http.StatusInternalServerError},
		{"bad id", http.MethodGet, "/admin/v1/rooms/a%20b", nil, "DS-ARG-1001", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(Config{Rooms: fakeRooms{err: tt.err}})
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			var body Response
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if w.Code != tt.want || body.Code != tt.wantCode {
				t.Errorf("got %d %q, want %d %q", w.Code, body.Code, tt.want, tt.wantCode)
			}
			if w.Header().Get("X-Error-Code") != tt.wantCode {
				t.Errorf("X-Error-Code = %q", w.Header().Get("X-Error-Code"))
			}
		})
	}
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := map[string]int{
		"DS-ROOM-4040": http.StatusNotFound,
		"DS-ROOM-4100": http.StatusGone,
		"DS-SYNC-4130": http.StatusRequestEntityTooLarge,
		"DS-AUTH-4010": http.StatusUnauthorized,
		"DS-AUTH-4030": http.StatusForbidden,
		"DS-SYNC-4290": http.StatusTooManyRequests,
		"DS-ARG-1001":  http.StatusBadRequest,
		"DS-RLAY-5030": http.StatusServiceUnavailable,
		"DS-SYNC-5000": http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := errorCodeToHTTPStatus(code); got != want {
			t.Errorf("errorCodeToHTTPStatus(%q) = %d, want %d", code, got, want)
		}
	}
}
