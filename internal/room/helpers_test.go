package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/docsync-go/internal/awareness"
	"github.com/yndnr/docsync-go/internal/core/domain"
	"github.com/yndnr/docsync-go/internal/crdt"
	"github.com/yndnr/docsync-go/internal/protocol"
	"github.com/yndnr/docsync-go/internal/relay"
	"github.com/yndnr/docsync-go/internal/storage"
)

// testPeer is a client replica. It applies every update it receives.
type testPeer struct {
	id      string
	explode atomic.Bool

	mu         sync.Mutex
	doc        *crdt.Doc
	frames     []protocol.Frame
	presence   map[string]map[string]string
	terminated error
}

func newTestPeer(id string, client uint64) *testPeer {
	return &testPeer{
		id:       id,
		doc:      crdt.New(client),
		presence: make(map[string]map[string]string),
	}
}

func (p *testPeer) SessionID() string { return p.id }

func (p *testPeer) Deliver(f protocol.Frame) {
	if p.explode.Load() {
		panic("peer exploded")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, f)
	switch f.Kind {
	case protocol.KindUpdate:
		if _, err := p.doc.Apply(f.Payload); err != nil {
			panic(err)
		}
	case protocol.KindAwareness:
		entries, err := awareness.Decode(f.Payload)
		if err != nil {
			panic(err)
		}
		for _, e := range entries {
			if e.Removed {
				delete(p.presence, e.Session)
			} else {
				p.presence[e.Session] = e.State
			}
		}
	}
}

func (p *testPeer) Terminate(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated == nil {
		p.terminated = err
	}
}

// edit makes a local edit and returns the update to send.
func (p *testPeer) insert(t *testing.T, pos int, text string) []byte {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	u, err := p.doc.Insert(pos, text)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return u
}

func (p *testPeer) text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Text()
}

func (p *testPeer) stateVector() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.StateVector().Encode()
}

func (p *testPeer) frameKinds() []protocol.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]protocol.Kind, len(p.frames))
	for i, f := range p.frames {
		kinds[i] = f.Kind
	}
	return kinds
}

func (p *testPeer) firstFrame() protocol.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames[0]
}

func (p *testPeer) presenceOf(session string) (map[string]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.presence[session]
	return s, ok
}

func (p *testPeer) termination() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// countingStore counts saves, can fail or block loads and can make saves
// panic.
type countingStore struct {
	*storage.MemoryStore
	saves      atomic.Int32
	failLoads  atomic.Bool
	panicSaves atomic.Bool
	loadGate   chan struct{}
}

var errStoreDown = errors.New("store down")

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: storage.NewMemoryStore()}
}

func (s *countingStore) Load(ctx context.Context, id string) (*domain.PersistenceRecord, error) {
	if s.loadGate != nil {
		select {
		case <-s.loadGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.failLoads.Load() {
		return nil, errStoreDown
	}
	return s.MemoryStore.Load(ctx, id)
}

func (s *countingStore) Save(ctx context.Context, id string, snap []byte, v uint64) (uint64, error) {
	s.saves.Add(1)
	if s.panicSaves.Load() {
		panic("disk on fire")
	}
	return s.MemoryStore.Save(ctx, id, snap, v)
}

// storedText decodes the stored snapshot of id.
func storedText(t *testing.T, s Persister, id string) string {
	t.Helper()
	rec, err := s.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec == nil {
		return ""
	}
	d := crdt.New(99)
	if err := d.LoadSnapshot(rec.Snapshot); err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	return d.Text()
}

func testConfig(instance string) Config {
	cfg := DefaultConfig()
	cfg.InstanceID = instance
	cfg.DebounceInterval = time.Hour
	cfg.MaxDebounceDelay = time.Hour
	cfg.GracePeriod = time.Hour
	cfg.SaveTimeout = 2 * time.Second
	cfg.PublishTimeout = time.Second
	return cfg
}

func newTestManager(t *testing.T, cfg Config, store Persister, rl relay.Relay) *Manager {
	t.Helper()
	m, err := NewManager(cfg, store, rl, slog.Default(), nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func join(t *testing.T, m *Manager, doc string, p *testPeer, intent domain.Intent) *Handle {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := m.Join(ctx, doc, p, JoinOptions{StateVector: p.stateVector(), Intent: intent})
	if err != nil {
		t.Fatalf("Join(%q) error = %v", doc, err)
	}
	return h
}

func send(t *testing.T, h *Handle, u []byte) {
	t.Helper()
	if err := h.Update(context.Background(), u); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
