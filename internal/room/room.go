package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/docsync-go/internal/awareness"
	"github.com/yndnr/docsync-go/internal/core/domain"
	"github.com/yndnr/docsync-go/internal/crdt"
	"github.com/yndnr/docsync-go/internal/protocol"
	"github.com/yndnr/docsync-go/internal/relay"
)

// Phase is the lifecycle phase of a room.
type Phase int

// Room phases.
const (
	PhaseHydrating Phase = iota
	PhaseActive
	PhaseDraining
	PhaseClosed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseHydrating:
		return "hydrating"
	case PhaseActive:
		return "active"
	case PhaseDraining:
		return "draining"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Peer is a connection attached to a room.
type Peer interface {
	// SessionID identifies the peer within the room.
	SessionID() string
	// Deliver queues a frame for the peer. It must not block; a peer that
	// cannot keep up disconnects itself.
	Deliver(f protocol.Frame)
	// Terminate closes the peer with err. It must not block.
	Terminate(err error)
}

// Update sources.
const (
	sourceLocal  = "local"
	sourceRemote = "remote"
)

type saveResult struct {
	seq      uint64
	version  uint64
	err      error
	conflict bool
	latest   *domain.PersistenceRecord
}

type flushWaiter struct {
	seq uint64
	ch  chan error
}

// Room owns the replicated state of one document. All fields below the
// channels are confined to the room goroutine.
type Room struct {
	id     string
	mgr    *Manager
	logger *slog.Logger

	mailbox chan func()
	ready   chan struct{}
	done    chan struct{}
	saved   chan saveResult
	outbox  chan relay.Message
	wake    chan struct{}

	// set before ready is closed
	hydrateErr error

	joining atomic.Int32

	inboxMu sync.Mutex
	inbox   []relay.Message

	publishing sync.WaitGroup

	phase Phase
	doc   *crdt.Doc
	aware *awareness.Tracker
	peers map[string]Peer

	version      uint64
	changeSeq    uint64
	persistedSeq uint64
	dirty        bool
	saving       bool
	flushAgain   bool
	conflicts    int
	waiters      []flushWaiter

	quiet    *time.Timer
	maxDelay *time.Timer
	grace    *time.Timer
	maxArmed bool

	closeReason string
	closeErr    error
	discard     bool

	openedAt    time.Time
	lastChange  time.Time
	persistedAt time.Time
}

func newRoom(m *Manager, documentID string) *Room {
	r := &Room{
		id:       documentID,
		mgr:      m,
		logger:   m.logger.With("document_id", documentID),
		mailbox:  make(chan func(), m.cfg.MailboxSize),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		saved:    make(chan saveResult, 1),
		outbox:   make(chan relay.Message, m.cfg.OutboxSize),
		wake:     make(chan struct{}, 1),
		phase:    PhaseHydrating,
		doc:      crdt.New(0),
		aware:    awareness.NewTracker(m.now),
		peers:    make(map[string]Peer),
		quiet:    stoppedTimer(),
		maxDelay: stoppedTimer(),
		grace:    stoppedTimer(),
		openedAt: m.now(),
	}
	m.metrics.Rooms.WithLabelValues(r.phase.String()).Inc()
	return r
}

func stoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

// run is the room goroutine.
func (r *Room) run() {
	if err := r.hydrate(); err != nil {
		r.logger.Error("room hydration failed", "error", err)
		r.mgr.rooms.remove(r.id, r)
		r.hydrateErr = err
		close(r.ready)
		r.finish("hydrate_failed")
		return
	}
	close(r.ready)

	r.publishing.Add(1)
	go r.publishLoop()

	r.requestSync()
	r.setPhase(PhaseDraining)
	r.grace.Reset(r.mgr.cfg.GracePeriod)
	r.logger.Debug("room opened", "version", r.version, "length", r.doc.Len())

	r.loop()
	r.shutdown()
}

func (r *Room) hydrate() error {
	ctx, cancel := context.WithTimeout(r.mgr.ctx, r.mgr.cfg.SaveTimeout)
	defer cancel()

	start := time.Now()
	rec, err := r.mgr.store.Load(ctx, r.id)
	r.mgr.metrics.PersistDuration.WithLabelValues("load").Observe(time.Since(start).Seconds())
	if err != nil {
		r.mgr.metrics.PersistLoads.WithLabelValues("error").Inc()
		return domain.ErrRoomUnavailable.WithCause(err).WithDetails(r.id)
	}
	if rec == nil {
		r.mgr.metrics.PersistLoads.WithLabelValues("missing").Inc()
	} else {
		r.mgr.metrics.PersistLoads.WithLabelValues("found").Inc()
		if err := r.doc.LoadSnapshot(rec.Snapshot); err != nil {
			return domain.ErrRoomUnavailable.WithCause(err).WithDetails(r.id)
		}
		r.version = rec.Version
		r.persistedAt = rec.UpdatedAt
	}

	if err := r.mgr.relay.Subscribe(ctx, r.id, r.receive); err != nil {
		r.logger.Warn("relay subscribe failed, serving local peers only", "error", err)
	}
	return nil
}

func (r *Room) loop() {
	tick := time.NewTicker(r.mgr.awarenessInterval())
	defer tick.Stop()

	for r.phase != PhaseClosed {
		select {
		case task := <-r.mailbox:
			r.guard(task)
		case <-r.wake:
			r.guard(r.drainInbox)
		case res := <-r.saved:
			r.guard(func() { r.onSaved(res) })
		case <-r.quiet.C:
			r.guard(r.flush)
		case <-r.maxDelay.C:
			r.maxArmed = false
			r.guard(r.flush)
		case <-r.grace.C:
			r.guard(r.onGrace)
		case <-tick.C:
			r.guard(r.tickAwareness)
		}
	}
}

// guard runs fn on the room goroutine. A panic marks the room for
// teardown without persisting its state.
func (r *Room) guard(fn func()) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("room panicked, discarding state",
				"panic", v, "stack", string(debug.Stack()))
			r.discard = true
			r.closeReason = "panic"
			r.closeErr = domain.ErrResync
			r.setPhase(PhaseClosed)
		}
	}()
	fn()
}

// do runs fn on the room goroutine and waits for its result.
func (r *Room) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if err := r.post(ctx, func() { reply <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return domain.ErrRoomClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting for it to run.
func (r *Room) post(ctx context.Context, fn func()) error {
	select {
	case r.mailbox <- fn:
		return nil
	case <-r.done:
		return domain.ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) setPhase(p Phase) {
	if p == r.phase {
		return
	}
	r.mgr.metrics.Rooms.WithLabelValues(r.phase.String()).Dec()
	r.mgr.metrics.Rooms.WithLabelValues(p.String()).Inc()
	r.phase = p
}

func (r *Room) attach(p Peer, opts JoinOptions) error {
	if r.phase == PhaseClosed {
		return domain.ErrRoomClosed
	}
	diff, err := r.doc.DiffSince(opts.StateVector)
	if err != nil {
		return err
	}
	id := p.SessionID()
	if old, ok := r.peers[id]; ok && old != p {
		old.Terminate(domain.ErrTransportClosed.WithDetails("replaced by a new connection"))
	}
	r.peers[id] = p
	if r.phase == PhaseDraining {
		r.grace.Stop()
		r.setPhase(PhaseActive)
	}

	p.Deliver(protocol.HandshakeAck{
		SessionID:   id,
		StateVector: r.doc.StateVector().Encode(),
		ReadOnly:    !opts.Intent.CanWrite(),
	}.Encode())
	p.Deliver(protocol.Update(diff))
	if snap := r.aware.Snapshot(); snap != nil {
		p.Deliver(protocol.Awareness(snap))
	}
	r.logger.Debug("peer attached", "session_id", id, "intent", opts.Intent.String(), "peers", len(r.peers))
	return nil
}

func (r *Room) detach(p Peer) {
	sessionID := p.SessionID()
	if r.peers[sessionID] != p {
		return
	}
	delete(r.peers, sessionID)
	if u := r.aware.Clear(sessionID); u != nil {
		r.broadcast(protocol.Awareness(u), "")
		r.publish(relay.KindAwareness, u, "")
	}
	r.logger.Debug("peer detached", "session_id", sessionID, "peers", len(r.peers))
	if len(r.peers) == 0 && r.phase == PhaseActive {
		r.setPhase(PhaseDraining)
		r.grace.Reset(r.mgr.cfg.GracePeriod)
	}
}

func (r *Room) onGrace() {
	if len(r.peers) > 0 || r.phase != PhaseDraining {
		return
	}
	if r.joining.Load() > 0 {
		r.grace.Reset(max(r.mgr.cfg.GracePeriod, 10*time.Millisecond))
		return
	}
	r.closeReason = "idle"
	r.setPhase(PhaseClosed)
}

// apply merges an update from a local peer or another instance. The new
// part is broadcast to local peers except the sender; local changes are
// also published on the relay.
func (r *Room) apply(payload []byte, source, sender string) error {
	delta, err := r.doc.Apply(payload)
	if err != nil {
		r.mgr.metrics.Updates.WithLabelValues(source, "corrupt").Inc()
		return err
	}
	if delta.Empty() {
		r.mgr.metrics.Updates.WithLabelValues(source, "noop").Inc()
		return nil
	}
	r.mgr.metrics.Updates.WithLabelValues(source, "applied").Inc()

	u := delta.Update()
	r.broadcast(protocol.Update(u), sender)
	if source == sourceLocal {
		r.publish(relay.KindUpdate, u, "")
	}
	r.markChanged()
	return nil
}

func (r *Room) setAwareness(sessionID string, state map[string]string) {
	u := r.aware.SetLocal(sessionID, state)
	r.mgr.metrics.Awareness.WithLabelValues(sourceLocal).Inc()
	r.broadcast(protocol.Awareness(u), sessionID)
	r.publish(relay.KindAwareness, u, "")
}

func (r *Room) broadcast(f protocol.Frame, except string) {
	for id, p := range r.peers {
		if id != except {
			p.Deliver(f)
		}
	}
}

// publish queues a relay message. A full outbox drops the message; peers
// catch up through the next resynchronization.
func (r *Room) publish(kind relay.Kind, payload []byte, target string) {
	msg := relay.Message{
		DocumentID: r.id,
		Kind:       kind,
		Payload:    payload,
		Origin:     r.mgr.cfg.InstanceID,
		Target:     target,
	}
	select {
	case r.outbox <- msg:
	default:
		r.mgr.metrics.RelayPublishErrors.WithLabelValues(kind.String()).Inc()
		r.logger.Warn("relay outbox full, dropping message", "kind", kind.String())
	}
}

func (r *Room) publishLoop() {
	defer r.publishing.Done()
	for msg := range r.outbox {
		if !r.mgr.relay.Available() {
			r.mgr.metrics.RelayPublishErrors.WithLabelValues(msg.Kind.String()).Inc()
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.mgr.cfg.PublishTimeout)
		err := r.mgr.relay.Publish(ctx, msg)
		cancel()
		if err != nil {
			r.mgr.metrics.RelayPublishErrors.WithLabelValues(msg.Kind.String()).Inc()
			r.logger.Warn("relay publish failed", "kind", msg.Kind.String(), "error", err)
		}
	}
}

// receive is the relay handler. It runs on the relay's goroutine, so it
// only queues the message for the room goroutine.
func (r *Room) receive(msg relay.Message) {
	r.inboxMu.Lock()
	r.inbox = append(r.inbox, msg)
	r.inboxMu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Room) drainInbox() {
	r.inboxMu.Lock()
	msgs := r.inbox
	r.inbox = nil
	r.inboxMu.Unlock()
	for _, msg := range msgs {
		r.handleRelay(msg)
	}
}

func (r *Room) handleRelay(msg relay.Message) {
	r.mgr.metrics.RelayReceived.WithLabelValues(msg.Kind.String()).Inc()
	switch msg.Kind {
	case relay.KindUpdate:
		if err := r.apply(msg.Payload, sourceRemote, ""); err != nil {
			r.logger.Warn("dropping corrupt relay update", "origin", msg.Origin, "error", err)
		}
	case relay.KindAwareness:
		u, err := r.aware.Apply(msg.Origin, msg.Payload)
		if err != nil {
			r.logger.Warn("dropping malformed relay awareness", "origin", msg.Origin, "error", err)
			return
		}
		r.mgr.metrics.Awareness.WithLabelValues(sourceRemote).Inc()
		if u != nil {
			r.broadcast(protocol.Awareness(u), "")
		}
	case relay.KindRoomClosed:
		if u := r.aware.ClearOrigin(msg.Origin); u != nil {
			r.broadcast(protocol.Awareness(u), "")
		}
	case relay.KindSyncRequest:
		r.answerSync(msg, true)
	case relay.KindSyncReply:
		r.answerSync(msg, false)
	default:
		r.logger.Debug("ignoring relay message", "kind", msg.Kind.String(), "origin", msg.Origin)
	}
}

// answerSync sends the origin what it is missing according to its state
// vector. A request is also answered with our own state vector and local
// presence so the requester can fill our gaps.
func (r *Room) answerSync(msg relay.Message, request bool) {
	diff, err := r.doc.DiffSince(msg.Payload)
	if err != nil {
		r.logger.Warn("dropping malformed sync message", "origin", msg.Origin, "error", err)
		return
	}
	r.publish(relay.KindUpdate, diff, msg.Origin)
	if !request {
		return
	}
	r.publish(relay.KindSyncReply, r.doc.StateVector().Encode(), msg.Origin)
	if l := r.aware.Local(); l != nil {
		r.publish(relay.KindAwareness, l, msg.Origin)
	}
}

// requestSync asks every other instance for what this room is missing.
func (r *Room) requestSync() {
	r.publish(relay.KindSyncRequest, r.doc.StateVector().Encode(), "")
	if l := r.aware.Local(); l != nil {
		r.publish(relay.KindAwareness, l, "")
	}
}

func (r *Room) tickAwareness() {
	before := r.mgr.now().Add(-r.mgr.cfg.AwarenessTimeout)
	if u := r.aware.ExpireRemote(before); u != nil {
		r.broadcast(protocol.Awareness(u), "")
	}
	if l := r.aware.Local(); l != nil {
		r.publish(relay.KindAwareness, l, "")
	}
}

func (r *Room) markChanged() {
	r.changeSeq++
	r.lastChange = r.mgr.now()
	r.updateDirty()
	r.quiet.Reset(r.mgr.cfg.DebounceInterval)
	if !r.maxArmed {
		r.maxDelay.Reset(r.mgr.cfg.MaxDebounceDelay)
		r.maxArmed = true
	}
}

func (r *Room) updateDirty() {
	dirty := r.changeSeq > r.persistedSeq
	if dirty == r.dirty {
		return
	}
	r.dirty = dirty
	if dirty {
		r.mgr.metrics.RoomsDirty.Inc()
	} else {
		r.mgr.metrics.RoomsDirty.Dec()
	}
}

func (r *Room) stopDebounce() {
	r.quiet.Stop()
	r.maxDelay.Stop()
	r.maxArmed = false
}

// flush starts a background save of the current state.
func (r *Room) flush() {
	if r.saving {
		r.flushAgain = true
		return
	}
	r.stopDebounce()
	if r.changeSeq == r.persistedSeq {
		r.resolve(nil)
		return
	}
	snap := r.doc.Snapshot()
	seq, version := r.changeSeq, r.version
	r.saving = true
	go func() {
		r.saved <- r.save(snap, seq, version)
	}()
}

// save writes snap on top of version. On conflict it also reads the
// stored record so the room can merge it. A panicking store is reported
// as ErrPersistenceUnavailable.
func (r *Room) save(snap []byte, seq, version uint64) (res saveResult) {
	ctx, cancel := context.WithTimeout(context.Background(), r.mgr.cfg.SaveTimeout)
	defer cancel()
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("store panicked during save",
				"panic", v, "stack", string(debug.Stack()))
			res = saveResult{seq: seq, err: domain.ErrPersistenceUnavailable.WithDetails(fmt.Sprint(v))}
		}
	}()

	start := time.Now()
	v, err := r.mgr.store.Save(ctx, r.id, snap, version)
	r.mgr.metrics.PersistDuration.WithLabelValues("save").Observe(time.Since(start).Seconds())
	res = saveResult{seq: seq, version: v, err: err}
	if errors.Is(err, domain.ErrPersistenceConflict) {
		res.conflict = true
		latest, lerr := r.mgr.store.Load(ctx, r.id)
		if lerr != nil {
			res.conflict = false
			res.err = lerr
		}
		res.latest = latest
	}
	return res
}

func (r *Room) onSaved(res saveResult) {
	r.saving = false
	retry := r.absorb(res)
	again := r.flushAgain || len(r.waiters) > 0
	r.flushAgain = false

	switch {
	case retry && r.conflicts <= maxConflictRetries:
		r.flush()
	case res.err != nil:
		r.conflicts = 0
		r.resolve(res.err)
		// retried at the next debounce tick
		r.quiet.Reset(r.mgr.cfg.DebounceInterval)
	case again && r.changeSeq > r.persistedSeq:
		r.flush()
	}
}

const maxConflictRetries = 5

// absorb applies a save result to the room state and reports whether the
// save should be retried right away.
func (r *Room) absorb(res saveResult) bool {
	switch {
	case res.err == nil:
		r.conflicts = 0
		r.version = res.version
		r.persistedSeq = max(r.persistedSeq, res.seq)
		r.persistedAt = r.mgr.now()
		r.updateDirty()
		r.resolve(nil)
		r.mgr.metrics.PersistSaves.WithLabelValues("ok").Inc()
		r.logger.Debug("snapshot saved", "version", r.version)
		return false

	case res.conflict:
		r.conflicts++
		r.mgr.metrics.PersistSaves.WithLabelValues("conflict").Inc()
		if res.latest == nil {
			r.logger.Warn("stored snapshot vanished, rewriting", "expected_version", r.version)
			r.version = 0
			return true
		}
		delta, err := r.doc.Apply(res.latest.Snapshot)
		if err != nil {
			r.logger.Error("stored snapshot is corrupt, cannot merge", "version", res.latest.Version, "error", err)
			return false
		}
		r.logger.Info("persistence conflict, merged stored snapshot",
			"expected_version", r.version, "stored_version", res.latest.Version,
			"inserted", delta.Inserted(), "deleted", delta.Deleted())
		if !delta.Empty() {
			u := delta.Update()
			r.broadcast(protocol.Update(u), "")
			r.publish(relay.KindUpdate, u, "")
		}
		r.version = res.latest.Version
		return true

	default:
		r.mgr.metrics.PersistSaves.WithLabelValues("error").Inc()
		r.logger.Warn("snapshot save failed", "version", r.version, "error", res.err)
		return false
	}
}

// requestFlush saves now and reports the outcome on ch.
func (r *Room) requestFlush(ch chan error) {
	if !r.saving && r.changeSeq == r.persistedSeq {
		ch <- nil
		return
	}
	r.waiters = append(r.waiters, flushWaiter{seq: r.changeSeq, ch: ch})
	r.flush()
}

// resolve completes flush waiters. A nil err only completes the waiters
// whose changes are persisted.
func (r *Room) resolve(err error) {
	kept := r.waiters[:0]
	for _, w := range r.waiters {
		if err != nil || w.seq <= r.persistedSeq {
			w.ch <- err
			continue
		}
		kept = append(kept, w)
	}
	r.waiters = kept
}

func (r *Room) shutdown() {
	r.stopDebounce()
	r.grace.Stop()

	err := r.closeErr
	if err == nil {
		err = domain.ErrRoomClosed
	}
	for _, p := range r.peers {
		p.Terminate(err)
	}
	clear(r.peers)

	r.guard(r.persistFinal)
	if r.discard {
		// waiters left behind by a final flush that panicked
		r.resolve(domain.ErrResync)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.mgr.cfg.PublishTimeout)
	if err := r.mgr.relay.Unsubscribe(ctx, r.id); err != nil {
		r.logger.Warn("relay unsubscribe failed", "error", err)
	}
	cancel()
	r.outbox <- relay.Message{
		DocumentID: r.id,
		Kind:       relay.KindRoomClosed,
		Origin:     r.mgr.cfg.InstanceID,
	}
	close(r.outbox)
	r.publishing.Wait()

	r.mgr.rooms.remove(r.id, r)
	r.finish(r.closeReason)
}

// persistFinal writes the last state synchronously before the room is
// released.
func (r *Room) persistFinal() {
	if r.saving {
		r.saving = false
		r.absorb(<-r.saved)
	}
	if r.discard {
		r.resolve(domain.ErrResync)
		return
	}
	for attempt := 0; r.changeSeq > r.persistedSeq && attempt <= maxConflictRetries; attempt++ {
		res := r.save(r.doc.Snapshot(), r.changeSeq, r.version)
		if !r.absorb(res) && res.err != nil {
			break
		}
	}
	if r.changeSeq > r.persistedSeq {
		r.logger.Error("room closed with unsaved changes", "version", r.version)
		r.resolve(domain.ErrPersistenceUnavailable.WithDetails(r.id))
		return
	}
	r.resolve(nil)
}

func (r *Room) finish(reason string) {
	if reason == "" {
		reason = "closed"
	}
	if r.dirty {
		r.mgr.metrics.RoomsDirty.Dec()
		r.dirty = false
	}
	r.mgr.metrics.Rooms.WithLabelValues(r.phase.String()).Dec()
	r.mgr.metrics.RoomsClosed.WithLabelValues(reason).Inc()
	r.logger.Debug("room closed", "reason", reason, "version", r.version)
	close(r.done)
}

// Info describes an open room.
type Info struct {
	DocumentID     string    `json:"document_id"`
	Phase          string    `json:"phase"`
	Peers          int       `json:"peers"`
	Sessions       []string  `json:"sessions,omitempty"`
	Version        uint64    `json:"version"`
	Dirty          bool      `json:"dirty"`
	Length         int       `json:"length"`
	Clients        int       `json:"clients"`
	Items          int       `json:"items"`
	Tombstones     int       `json:"tombstones"`
	PendingItems   int       `json:"pending_items"`
	PendingDeletes int       `json:"pending_deletes"`
	Awareness      int       `json:"awareness"`
	OpenedAt       time.Time `json:"opened_at"`
	LastChange     time.Time `json:"last_change,omitzero"`
	PersistedAt    time.Time `json:"persisted_at,omitzero"`
}

func (r *Room) info() Info {
	st := r.doc.Stats()
	sessions := make([]string, 0, len(r.peers))
	for id := range r.peers {
		sessions = append(sessions, id)
	}
	slices.Sort(sessions)
	return Info{
		DocumentID:     r.id,
		Phase:          r.phase.String(),
		Peers:          len(r.peers),
		Sessions:       sessions,
		Version:        r.version,
		Dirty:          r.dirty,
		Length:         r.doc.Len(),
		Clients:        st.Clients,
		Items:          st.Items,
		Tombstones:     st.Tombstones,
		PendingItems:   st.PendingItems,
		PendingDeletes: st.PendingDeletes,
		Awareness:      r.aware.Len(),
		OpenedAt:       r.openedAt,
		LastChange:     r.lastChange,
		PersistedAt:    r.persistedAt,
	}
}
