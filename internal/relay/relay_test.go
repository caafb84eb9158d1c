package relay

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// collector records delivered messages.
type collector struct {
	mu   sync.Mutex
	msgs []Message
	ch   chan Message
}

func newCollector() *collector {
	return &collector{ch: make(chan Message, 64)}
}

func (c *collector) handle(m Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	c.ch <- m
}

func (c *collector) wait(t *testing.T, timeout time.Duration) Message {
	t.Helper()
	select {
	case m := <-c.ch:
		return m
	case <-time.After(timeout):
		t.Fatal("timed out waiting for relay message")
		return Message{}
	}
}

func (c *collector) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case m := <-c.ch:
		t.Fatalf("unexpected message %+v", m)
	case <-time.After(wait):
	}
}

func TestMessage_Codec(t *testing.T) {
	tests := []Message{
		{DocumentID: "doc-1", Kind: KindUpdate, Payload: []byte{1, 2, 3}, Origin: "a"},
		{DocumentID: "doc-2", Kind: KindRoomClosed, Origin: "b"},
		{DocumentID: "doc-3", Kind: KindSyncReply, Payload: []byte{0}, Origin: "c", Target: "a"},
	}
	for _, in := range tests {
		t.Run(in.Kind.String(), func(t *testing.T) {
			out, err := DecodeMessage(in.Encode())
			if err != nil {
				t.Fatalf("DecodeMessage() error = %v", err)
			}
			if out.DocumentID != in.DocumentID || out.Kind != in.Kind || !bytes.Equal(out.Payload, in.Payload) ||
				out.Origin != in.Origin || out.Target != in.Target {
				t.Errorf("DecodeMessage() = %+v, want %+v", out, in)
			}
		})
	}

	for _, bad := range [][]byte{{0x0a, 0x09}, {}, Message{Kind: KindUpdate, Origin: "x"}.Encode(), Message{DocumentID: "d", Kind: 99}.Encode()} {
		if _, err := DecodeMessage(bad); !errors.Is(err, domain.ErrProtocol) {
			t.Errorf("DecodeMessage(%v) error = %v, want ErrProtocol", bad, err)
		}
	}
}

func TestSubscriptions_Dispatch(t *testing.T) {
	subs := newSubscriptions("self", slog.Default())
	c := newCollector()
	subs.add("doc", c.handle)

	subs.dispatch(Message{DocumentID: "doc", Kind: KindUpdate, Origin: "self"})
	subs.dispatch(Message{DocumentID: "doc", Kind: KindSyncReply, Origin: "peer", Target: "other"})
	subs.dispatch(Message{DocumentID: "unknown", Kind: KindUpdate, Origin: "peer"})
	c.none(t, 10*time.Millisecond)

	subs.dispatch(Message{DocumentID: "doc", Kind: KindSyncReply, Origin: "peer", Target: "self"})
	subs.dispatch(Message{DocumentID: "doc", Kind: KindUpdate, Origin: "peer"})
	if m := c.wait(t, time.Second); m.Kind != KindSyncReply {
		t.Errorf("first message kind = %v, want sync-reply", m.Kind)
	}
	if m := c.wait(t, time.Second); m.Kind != KindUpdate {
		t.Errorf("second message kind = %v, want update", m.Kind)
	}
}

func TestLocalRelay_FanOut(t *testing.T) {
	bus := NewBus()
	a := bus.Join("a", slog.Default())
	b := bus.Join("b", slog.Default())
	c := bus.Join("c", slog.Default())
	defer a.Close()
	defer b.Close()
	defer c.Close()

	ctx := context.Background()
	onB, onC := newCollector(), newCollector()
	if err := b.Subscribe(ctx, "doc-1", onB.handle); err != nil {
		t.Fatal(err)
	}
	if err := c.Subscribe(ctx, "doc-2", onC.handle); err != nil {
		t.Fatal(err)
	}

	if err := a.Publish(ctx, Message{DocumentID: "doc-1", Kind: KindUpdate, Payload: []byte("u"), Origin: "a"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if m := onB.wait(t, time.Second); string(m.Payload) != "u" || m.Origin != "a" {
		t.Errorf("b received %+v", m)
	}
	onC.none(t, 20*time.Millisecond)

	if err := b.Unsubscribe(ctx, "doc-1"); err != nil {
		t.Fatal(err)
	}
	if b.Subscribed("doc-1") {
		t.Error("Subscribed() should be false after Unsubscribe")
	}
	_ = a.Publish(ctx, Message{DocumentID: "doc-1", Kind: KindUpdate, Origin: "a"})
	onB.none(t, 20*time.Millisecond)
}

func TestLocalRelay_Availability(t *testing.T) {
	bus := NewBus()
	a := bus.Join("a", slog.Default())
	b := bus.Join("b", slog.Default())
	defer a.Close()
	defer b.Close()

	reconnected := make(chan struct{}, 1)
	a.OnReconnect(func() { reconnected <- struct{}{} })

	a.SetAvailable(false)
	if a.Available() {
		t.Error("Available() should be false")
	}
	err := a.Publish(context.Background(), Message{DocumentID: "d", Kind: KindUpdate, Origin: "a"})
	if !errors.Is(err, domain.ErrRelayUnavailable) {
		t.Errorf("Publish() while down error = %v, want ErrRelayUnavailable", err)
	}

	a.SetAvailable(true)
	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("reconnect callback not called")
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if a.Available() {
		t.Error("closed relay should not be available")
	}
}

func TestGossipRelay(t *testing.T) {
	a, err := NewGossipRelay(GossipConfig{BindAddr: "127.0.0.1", BindPort: 0}, "node-a", slog.Default())
	if err != nil {
		t.Fatalf("NewGossipRelay(a) error = %v", err)
	}
	defer a.Close()

	joined := make(chan struct{}, 4)
	a.OnReconnect(func() { joined <- struct{}{} })

	b, err := NewGossipRelay(GossipConfig{BindAddr: "127.0.0.1", BindPort: 0, Seeds: []string{a.Addr()}}, "node-b", slog.Default())
	if err != nil {
		t.Fatalf("NewGossipRelay(b) error = %v", err)
	}
	defer b.Close()

	select {
	case <-joined:
	case <-time.After(5 * time.Second):
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(a.Members()) < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if len(a.Members()) != 2 {
		t.Fatalf("members = %v, want 2", a.Members())
	}

	ctx := context.Background()
	onB := newCollector()
	if err := b.Subscribe(ctx, "doc-1", onB.handle); err != nil {
		t.Fatal(err)
	}
	msg := Message{DocumentID: "doc-1", Kind: KindAwareness, Payload: []byte(`[]`), Origin: "node-a"}
	if err := a.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if got := onB.wait(t, 5*time.Second); got.Kind != KindAwareness || got.Origin != "node-a" {
		t.Errorf("b received %+v", got)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := a.Publish(cancelled, msg); !errors.Is(err, domain.ErrRelayUnavailable) || !errors.Is(err, context.Canceled) {
		t.Errorf("Publish() with a cancelled context error = %v", err)
	}
	if err := a.Publish(ctx, Message{DocumentID: "doc-1", Kind: KindAwareness, Target: "node-gone"}); err != nil {
		t.Errorf("Publish() to a member that left error = %v", err)
	}
}

func TestRedisRelay(t *testing.T) {
	url := os.Getenv("DOCSYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DOCSYNC_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	cfg := RedisConfig{URL: url, ChannelPrefix: "docsync:test:", HealthInterval: 100 * time.Millisecond}

	a, err := NewRedisRelay(ctx, cfg, "a", slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewRedisRelay(ctx, cfg, "b", slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	onB := newCollector()
	if err := b.Subscribe(ctx, "doc-1", onB.handle); err != nil {
		t.Fatal(err)
	}
	onA := newCollector()
	if err := a.Subscribe(ctx, "doc-1", onA.handle); err != nil {
		t.Fatal(err)
	}
	// give the SUBSCRIBE round trip time to land
	time.Sleep(100 * time.Millisecond)

	if err := a.Publish(ctx, Message{DocumentID: "doc-1", Kind: KindUpdate, Payload: []byte("x"), Origin: "a"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if got := onB.wait(t, 2*time.Second); string(got.Payload) != "x" {
		t.Errorf("b received %+v", got)
	}
	onA.none(t, 100*time.Millisecond)
}

func TestNewRedisRelay_BadURL(t *testing.T) {
	if _, err := NewRedisRelay(context.Background(), RedisConfig{URL: "http://nope"}, "a", nil); err == nil {
		t.Error("NewRedisRelay() with bad url should fail")
	}
}
