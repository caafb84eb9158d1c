package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// Bus connects LocalRelays living in the same process.
type Bus struct {
	mu      sync.RWMutex
	members map[*LocalRelay]struct{}
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{members: make(map[*LocalRelay]struct{})}
}

// Join attaches a new instance to the bus.
func (b *Bus) Join(instanceID string, logger *slog.Logger) *LocalRelay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &LocalRelay{
		bus:    b,
		subs:   newSubscriptions(instanceID, logger),
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	r.up.Store(true)

	b.mu.Lock()
	b.members[r] = struct{}{}
	b.mu.Unlock()

	go r.deliverLoop()
	return r
}

func (b *Bus) leave(r *LocalRelay) {
	b.mu.Lock()
	delete(b.members, r)
	b.mu.Unlock()
}

// LocalRelay is one instance's view of a Bus. Delivery runs on a dedicated
// goroutine per instance, in publish order.
type LocalRelay struct {
	bus    *Bus
	subs   *subscriptions
	hooks  hooks
	logger *slog.Logger

	up     atomic.Bool
	closed atomic.Bool

	mu    sync.Mutex
	queue [][]byte
	wake  chan struct{}
	done  chan struct{}
}

// Publish implements Relay.
func (r *LocalRelay) Publish(ctx context.Context, msg Message) error {
	if r.closed.Load() || !r.up.Load() {
		return domain.ErrRelayUnavailable.WithDetails("local bus detached")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b := msg.Encode()

	r.bus.mu.RLock()
	defer r.bus.mu.RUnlock()
	for m := range r.bus.members {
		if m != r && m.up.Load() {
			m.enqueue(b)
		}
	}
	return nil
}

func (r *LocalRelay) enqueue(b []byte) {
	r.mu.Lock()
	r.queue = append(r.queue, b)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *LocalRelay) deliverLoop() {
	for {
		select {
		case <-r.wake:
		case <-r.done:
			return
		}
		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		r.mu.Unlock()

		for _, b := range batch {
			r.subs.dispatchRaw(b)
		}
	}
}

// Subscribe implements Relay.
func (r *LocalRelay) Subscribe(_ context.Context, documentID string, h Handler) error {
	r.subs.add(documentID, h)
	return nil
}

// Unsubscribe implements Relay.
func (r *LocalRelay) Unsubscribe(_ context.Context, documentID string) error {
	r.subs.remove(documentID)
	return nil
}

// OnReconnect implements Relay.
func (r *LocalRelay) OnReconnect(fn func()) {
	r.hooks.add(fn)
}

// Available implements Relay.
func (r *LocalRelay) Available() bool {
	return r.up.Load() && !r.closed.Load()
}

// SetAvailable simulates losing or regaining the channel. Messages sent to
// an unavailable instance are lost. Coming back up runs the reconnect
// callbacks.
func (r *LocalRelay) SetAvailable(up bool) {
	if r.up.Swap(up) == up {
		return
	}
	r.logger.Info("local relay availability changed", "available", up)
	if up {
		r.hooks.fire()
	}
}

// Subscribed reports whether documentID has a handler.
func (r *LocalRelay) Subscribed(documentID string) bool {
	return r.subs.has(documentID)
}

// Close implements Relay.
func (r *LocalRelay) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.bus.leave(r)
	close(r.done)
	return nil
}
