package room

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/docsync-go/internal/awareness"
	"github.com/yndnr/docsync-go/internal/core/domain"
	"github.com/yndnr/docsync-go/internal/relay"
	"github.com/yndnr/docsync-go/internal/storage"
	"github.com/yndnr/docsync-go/internal/telemetry/metric"
)

// Persister loads and saves document snapshots. *storage.Adapter
// implements it.
type Persister interface {
	Load(ctx context.Context, documentID string) (*domain.PersistenceRecord, error)
	Save(ctx context.Context, documentID string, snapshot []byte, expectedVersion uint64) (uint64, error)
}

// JoinOptions describes a peer joining a room.
type JoinOptions struct {
	// StateVector is what the peer already has. The catch-up update sent on
	// attach carries everything else.
	StateVector []byte
	// Intent decides whether the peer may send updates.
	Intent domain.Intent
}

// Manager owns the open rooms of this instance.
type Manager struct {
	cfg     Config
	store   Persister
	relay   relay.Relay
	logger  *slog.Logger
	metrics *metric.Metrics
	rooms   *registry
	now     func() time.Time

	// ctx bounds hydration; cancelled by Close
	ctx     context.Context
	cancel  context.CancelFunc
	closing atomic.Bool
}

// NewManager creates a room manager. Rooms are created on first join.
func NewManager(cfg Config, store Persister, rl relay.Relay, logger *slog.Logger, metrics *metric.Metrics) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || rl == nil {
		return nil, errors.New("room: store and relay are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = metric.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:     cfg,
		store:   store,
		relay:   rl,
		logger:  logger.With("component", "room"),
		metrics: metrics,
		rooms:   newRegistry(cfg.ShardCount),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	rl.OnReconnect(m.resync)
	return m, nil
}

func (m *Manager) awarenessInterval() time.Duration {
	return max(m.cfg.AwarenessTimeout/3, 10*time.Millisecond)
}

// Join attaches peer to the room of documentID, creating and hydrating the
// room when needed. Only this call waits for hydration, and ctx cancels
// the wait. The room delivers the handshake ack, the catch-up update and
// the current presence to the peer before Join returns.
func (m *Manager) Join(ctx context.Context, documentID string, peer Peer, opts JoinOptions) (*Handle, error) {
	if err := domain.ValidateDocumentID(documentID); err != nil {
		return nil, err
	}
	for {
		if m.closing.Load() {
			return nil, domain.ErrRoomUnavailable.WithDetails("server shutting down")
		}
		r, created := m.rooms.getOrCreate(documentID, func() *Room {
			return newRoom(m, documentID)
		})
		if created {
			m.metrics.RoomsOpened.Inc()
			go r.run()
		}

		r.joining.Add(1)
		h, err := m.attach(ctx, r, peer, opts)
		r.joining.Add(-1)
		if !errors.Is(err, domain.ErrRoomClosed) {
			return h, err
		}

		// the room closed under us; wait until it is gone, then start over
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) attach(ctx context.Context, r *Room, peer Peer, opts JoinOptions) (*Handle, error) {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.hydrateErr != nil {
		return nil, r.hydrateErr
	}

	err := r.do(ctx, func() error { return r.attach(peer, opts) })
	if err != nil {
		if ctx.Err() != nil {
			// the attach may still run; undo it
			go r.do(context.Background(), func() error {
				r.detach(peer)
				return nil
			})
		}
		return nil, err
	}
	return &Handle{room: r, peer: peer, readOnly: !opts.Intent.CanWrite()}, nil
}

// Rooms describes every open room, sorted by document id.
func (m *Manager) Rooms(ctx context.Context) ([]Info, error) {
	out := make([]Info, 0, m.rooms.count())
	for _, r := range m.rooms.all() {
		info, err := m.describe(ctx, r)
		if errors.Is(err, domain.ErrRoomClosed) || errors.Is(err, domain.ErrRoomUnavailable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.DocumentID, b.DocumentID) })
	return out, nil
}

// Room describes the open room of documentID.
func (m *Manager) Room(ctx context.Context, documentID string) (Info, error) {
	r, ok := m.rooms.get(documentID)
	if !ok {
		return Info{}, domain.ErrRoomNotFound.WithDetails(documentID)
	}
	info, err := m.describe(ctx, r)
	if errors.Is(err, domain.ErrRoomClosed) {
		return Info{}, domain.ErrRoomNotFound.WithDetails(documentID)
	}
	return info, err
}

func (m *Manager) describe(ctx context.Context, r *Room) (Info, error) {
	select {
	case <-r.ready:
	default:
		return Info{DocumentID: r.id, Phase: PhaseHydrating.String(), OpenedAt: r.openedAt}, nil
	}
	if r.hydrateErr != nil {
		return Info{}, r.hydrateErr
	}
	var info Info
	err := r.do(ctx, func() error {
		info = r.info()
		return nil
	})
	return info, err
}

// Flush saves the room of documentID now and waits for the outcome.
func (m *Manager) Flush(ctx context.Context, documentID string) error {
	r, ok := m.rooms.get(documentID)
	if !ok {
		return domain.ErrRoomNotFound.WithDetails(documentID)
	}
	select {
	case <-r.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.hydrateErr != nil {
		return r.hydrateErr
	}

	ch := make(chan error, 1)
	if err := r.do(ctx, func() error {
		r.requestFlush(ch)
		return nil
	}); err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current state of documentID: the live state when
// the room is open, the stored record otherwise.
func (m *Manager) Snapshot(ctx context.Context, documentID string) (*domain.PersistenceRecord, error) {
	if err := domain.ValidateDocumentID(documentID); err != nil {
		return nil, err
	}
	if r, ok := m.rooms.get(documentID); ok {
		rec, err := m.liveSnapshot(ctx, r)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrRoomClosed) && !errors.Is(err, domain.ErrRoomUnavailable) {
			return nil, err
		}
	}

	rec, err := m.store.Load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrRoomNotFound.WithDetails("no stored snapshot for " + documentID)
	}
	return rec, nil
}

func (m *Manager) liveSnapshot(ctx context.Context, r *Room) (*domain.PersistenceRecord, error) {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.hydrateErr != nil {
		return nil, r.hydrateErr
	}
	var rec *domain.PersistenceRecord
	err := r.do(ctx, func() error {
		snap := r.doc.Snapshot()
		updated := r.lastChange
		if updated.IsZero() {
			updated = r.persistedAt
		}
		rec = &domain.PersistenceRecord{
			DocumentID: r.id,
			Snapshot:   snap,
			Version:    r.version,
			UpdatedAt:  updated,
			Checksum:   storage.Checksum(snap),
		}
		return nil
	})
	return rec, err
}

// Closing reports whether Close was called.
func (m *Manager) Closing() bool {
	return m.closing.Load()
}

// Len returns the number of open rooms.
func (m *Manager) Len() int {
	return m.rooms.count()
}

// resync asks the other instances for what every open room missed while
// the relay was down.
func (m *Manager) resync() {
	rooms := m.rooms.all()
	m.logger.Info("relay reconnected, resynchronizing rooms", "rooms", len(rooms))
	for _, r := range rooms {
		select {
		case <-r.ready:
		default:
			// hydration subscribes and requests a sync on its own
			continue
		}
		_ = r.post(m.ctx, r.requestSync)
	}
}

// Close flushes and closes every room. Joins fail from the moment Close
// is called. Peers still attached are terminated.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closing.CompareAndSwap(false, true) {
		return nil
	}
	// rooms still hydrating give up instead of opening
	m.cancel()
	rooms := m.rooms.all()
	m.logger.Info("closing rooms", "rooms", len(rooms))

	var wg sync.WaitGroup
	for _, r := range rooms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.post(ctx, func() {
				r.closeReason = "shutdown"
				r.closeErr = domain.ErrRoomClosed.WithDetails("server shutting down")
				r.setPhase(PhaseClosed)
			})
			select {
			case <-r.done:
			case <-ctx.Done():
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		m.logger.Error("rooms did not close in time", "remaining", m.rooms.count(), "error", err)
		return err
	}
	return nil
}

// Handle is a peer's membership in a room.
type Handle struct {
	room     *Room
	peer     Peer
	readOnly bool
	leave    sync.Once
}

// DocumentID returns the document of the room.
func (h *Handle) DocumentID() string { return h.room.id }

// ReadOnly reports whether the peer may only observe.
func (h *Handle) ReadOnly() bool { return h.readOnly }

// Update merges an update sent by the peer. Updates of one peer are
// applied in call order.
func (h *Handle) Update(ctx context.Context, payload []byte) error {
	if h.readOnly {
		return domain.ErrReadOnly
	}
	r := h.room
	return r.do(ctx, func() error {
		if r.peers[h.peer.SessionID()] != h.peer {
			return domain.ErrRoomClosed
		}
		return r.apply(payload, sourceLocal, h.peer.SessionID())
	})
}

// Awareness replaces the peer's presence state. payload is a JSON object
// of string fields.
func (h *Handle) Awareness(ctx context.Context, payload []byte) error {
	state, err := awareness.DecodeState(payload)
	if err != nil {
		return err
	}
	r := h.room
	return r.do(ctx, func() error {
		if r.peers[h.peer.SessionID()] != h.peer {
			return domain.ErrRoomClosed
		}
		r.setAwareness(h.peer.SessionID(), state)
		return nil
	})
}

// Leave detaches the peer. It is safe to call more than once.
func (h *Handle) Leave() {
	h.leave.Do(func() {
		r := h.room
		_ = r.do(context.Background(), func() error {
			r.detach(h.peer)
			return nil
		})
	})
}
