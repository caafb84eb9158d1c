package crdt

import (
	"errors"
	"maps"
	"slices"
	"strings"
)

// ErrLive is returned by LoadSnapshot once the document has applied a live
// update or a local edit.
var ErrLive = errors.New("crdt: snapshot cannot replace live state")

type item struct {
	id          ID
	origin      *item
	rightOrigin *item
	left, right *item
	content     rune
	deleted     bool
}

func (it *item) record() record {
	r := record{id: it.id, content: it.content}
	if it.origin != nil {
		r.flags |= flagOrigin
		r.origin = it.origin.id
	}
	if it.rightOrigin != nil {
		r.flags |= flagRightOrigin
		r.rightOrigin = it.rightOrigin.id
	}
	return r
}

// Doc is a replicated text document.
type Doc struct {
	client uint64
	start  *item
	items  map[uint64][]*item
	length int

	pending    map[ID]record
	waiting    map[ID][]ID
	pendingDel map[ID]struct{}

	live bool
}

// New returns an empty document whose local edits are attributed to client.
func New(client uint64) *Doc {
	d := &Doc{client: client}
	d.reset()
	return d
}

func (d *Doc) reset() {
	d.start = nil
	d.items = make(map[uint64][]*item)
	d.length = 0
	d.pending = make(map[ID]record)
	d.waiting = make(map[ID][]ID)
	d.pendingDel = make(map[ID]struct{})
}

// Client returns the client id used for local edits.
func (d *Doc) Client() uint64 { return d.client }

// Len returns the number of visible runes.
func (d *Doc) Len() int { return d.length }

// Text returns the visible content.
func (d *Doc) Text() string {
	var sb strings.Builder
	for it := d.start; it != nil; it = it.right {
		if !it.deleted {
			sb.WriteRune(it.content)
		}
	}
	return sb.String()
}

// AppliedDelta is what an Apply call added to the document. Its encoded form
// is itself an update that other replicas can apply.
type AppliedDelta struct {
	records []record
	deletes []ID
}

// Empty reports whether the update was already fully known.
func (a *AppliedDelta) Empty() bool {
	return a == nil || (len(a.records) == 0 && len(a.deletes) == 0)
}

// Inserted returns the number of new items, integrated or pending.
func (a *AppliedDelta) Inserted() int { return len(a.records) }

// Deleted returns the number of new deletions, applied or pending.
func (a *AppliedDelta) Deleted() int { return len(a.deletes) }

// Update encodes the delta as an update.
func (a *AppliedDelta) Update() []byte {
	return encodeUpdate(update{records: a.records, deletes: runsOf(a.deletes)})
}

// Apply merges an encoded update. Updates may arrive in any order and any
// number of times. The returned delta holds only what was new; an empty
// delta means the update was a no-op. A payload that cannot be decoded
// leaves the document untouched and yields domain.ErrMergeCorrupt.
func (d *Doc) Apply(b []byte) (*AppliedDelta, error) {
	u, err := decodeUpdate(b)
	if err != nil {
		return nil, err
	}
	d.live = true
	return d.merge(u), nil
}

// LoadSnapshot replaces the state with a snapshot. It is only valid before
// any live update has been applied.
func (d *Doc) LoadSnapshot(b []byte) error {
	if d.live {
		return ErrLive
	}
	u, err := decodeUpdate(b)
	if err != nil {
		return err
	}
	d.reset()
	d.merge(u)
	return nil
}

func (d *Doc) merge(u update) *AppliedDelta {
	delta := &AppliedDelta{}
	for _, r := range u.records {
		if d.get(r.id) != nil {
			continue
		}
		if _, ok := d.pending[r.id]; ok {
			continue
		}
		delta.records = append(delta.records, r)
		d.admit(r)
	}
	for _, run := range u.deletes {
		for c := run.clock; c < run.clock+run.length; c++ {
			id := ID{Client: run.client, Clock: c}
			if it := d.get(id); it != nil {
				if !it.deleted {
					d.markDeleted(it)
					delta.deletes = append(delta.deletes, id)
				}
				continue
			}
			if _, ok := d.pendingDel[id]; !ok {
				d.pendingDel[id] = struct{}{}
				delta.deletes = append(delta.deletes, id)
			}
		}
	}
	return delta
}

// admit integrates r if its dependencies are present, otherwise parks it
// behind the first missing one. Integrating an item wakes whatever was
// parked behind it.
func (d *Doc) admit(r record) {
	queue := []record{r}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if d.get(r.id) != nil {
			continue
		}
		if missing, ok := d.missingDep(r); ok {
			d.pending[r.id] = r
			d.waiting[missing] = append(d.waiting[missing], r.id)
			continue
		}
		delete(d.pending, r.id)
		d.integrate(r)

		blocked := d.waiting[r.id]
		delete(d.waiting, r.id)
		for _, id := range blocked {
			if p, ok := d.pending[id]; ok {
				queue = append(queue, p)
			}
		}
	}
}

func (d *Doc) missingDep(r record) (ID, bool) {
	if r.id.Clock > 0 {
		prev := ID{Client: r.id.Client, Clock: r.id.Clock - 1}
		if d.get(prev) == nil {
			return prev, true
		}
	}
	if r.flags&flagOrigin != 0 && d.get(r.origin) == nil {
		return r.origin, true
	}
	if r.flags&flagRightOrigin != 0 && d.get(r.rightOrigin) == nil {
		return r.rightOrigin, true
	}
	return ID{}, false
}

// integrate places r in the sequence. Dependencies must be present.
//
// Starting right after the origin, it scans the items up to rightOrigin that
// were inserted concurrently. An item with the same origin and a lower
// client id stays to the left; an item whose origin lies inside the scanned
// run belongs to that run. The scan stops at the first item that belongs
// to neither.
func (d *Doc) integrate(r record) *item {
	it := &item{id: r.id, content: r.content}
	if r.flags&flagOrigin != 0 {
		it.origin = d.get(r.origin)
	}
	if r.flags&flagRightOrigin != 0 {
		it.rightOrigin = d.get(r.rightOrigin)
	}

	left := it.origin
	o := d.start
	if left != nil {
		o = left.right
	}
	if o != it.rightOrigin {
		before := make(map[*item]struct{})
		conflicting := make(map[*item]struct{})
		for o != nil && o != it.rightOrigin {
			before[o] = struct{}{}
			conflicting[o] = struct{}{}
			if o.origin == it.origin {
				if o.id.Client < it.id.Client {
					left = o
					clear(conflicting)
				} else if o.rightOrigin == it.rightOrigin {
					break
				}
			} else if _, seen := before[o.origin]; o.origin != nil && seen {
				if _, c := conflicting[o.origin]; !c {
					left = o
					clear(conflicting)
				}
			} else {
				break
			}
			o = o.right
		}
	}

	it.left = left
	if left == nil {
		it.right = d.start
		d.start = it
	} else {
		it.right = left.right
		left.right = it
	}
	if it.right != nil {
		it.right.left = it
	}

	d.items[it.id.Client] = append(d.items[it.id.Client], it)
	d.length++
	if _, ok := d.pendingDel[it.id]; ok {
		delete(d.pendingDel, it.id)
		d.markDeleted(it)
	}
	return it
}

func (d *Doc) markDeleted(it *item) {
	it.deleted = true
	d.length--
}

func (d *Doc) get(id ID) *item {
	s := d.items[id.Client]
	if id.Clock < uint64(len(s)) {
		return s[id.Clock]
	}
	return nil
}

// StateVector returns the integrated clock range of every client.
func (d *Doc) StateVector() StateVector {
	sv := make(StateVector, len(d.items))
	for c, s := range d.items {
		sv[c] = uint64(len(s))
	}
	return sv
}

// Snapshot serializes the whole document, pending items included.
func (d *Doc) Snapshot() []byte {
	return encodeUpdate(d.collect(nil))
}

// DiffSince returns the update a replica with the given encoded state vector
// needs to catch up. An empty vector yields the full state. The delete set
// is always sent in full.
func (d *Doc) DiffSince(stateVector []byte) ([]byte, error) {
	sv, err := DecodeStateVector(stateVector)
	if err != nil {
		return nil, err
	}
	return encodeUpdate(d.collect(sv)), nil
}

// collect gathers items at or above sv and every deletion. A nil sv selects
// everything.
func (d *Doc) collect(sv StateVector) update {
	var u update
	for _, c := range slices.Sorted(maps.Keys(d.items)) {
		s := d.items[c]
		for _, it := range s[min(sv[c], uint64(len(s))):] {
			u.records = append(u.records, it.record())
		}
	}

	var parked []record
	for id, r := range d.pending {
		if id.Clock >= sv[id.Client] {
			parked = append(parked, r)
		}
	}
	slices.SortFunc(parked, func(a, b record) int { return compareID(a.id, b.id) })
	u.records = append(u.records, parked...)

	u.deletes = runsOf(d.deletedIDs())
	return u
}

func (d *Doc) deletedIDs() []ID {
	var ids []ID
	for _, s := range d.items {
		for _, it := range s {
			if it.deleted {
				ids = append(ids, it.id)
			}
		}
	}
	for id := range d.pendingDel {
		ids = append(ids, id)
	}
	return ids
}

// Stats summarizes the internal state of a document.
type Stats struct {
	Clients        int
	Items          int
	Visible        int
	Tombstones     int
	PendingItems   int
	PendingDeletes int
}

// Stats returns item counts for diagnostics.
func (d *Doc) Stats() Stats {
	st := Stats{
		Clients:        len(d.items),
		Visible:        d.length,
		PendingItems:   len(d.pending),
		PendingDeletes: len(d.pendingDel),
	}
	for _, s := range d.items {
		st.Items += len(s)
	}
	st.Tombstones = st.Items - st.Visible
	return st
}
