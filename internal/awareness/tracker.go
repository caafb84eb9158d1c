package awareness

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// Entry is the wire form of one session's presence.
type Entry struct {
	Session string            `json:"session"`
	Clock   uint64            `json:"clock"`
	State   map[string]string `json:"state,omitempty"`
	Removed bool              `json:"removed,omitempty"`
}

type entry struct {
	Entry
	origin  string // empty for sessions attached to this instance
	updated time.Time
}

// Tracker holds the presence entries of one room. It is owned by the room
// and not safe for concurrent use.
type Tracker struct {
	entries    map[string]*entry
	tombstones map[string]tombstone
	now        func() time.Time
}

type tombstone struct {
	clock   uint64
	removed time.Time
}

// NewTracker returns an empty tracker. now defaults to time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		entries:    make(map[string]*entry),
		tombstones: make(map[string]tombstone),
		now:        now,
	}
}

// SetLocal replaces the state of a session attached to this instance and
// returns the update to broadcast.
func (t *Tracker) SetLocal(sessionID string, state map[string]string) []byte {
	e, ok := t.entries[sessionID]
	if !ok {
		e = &entry{Entry: Entry{Session: sessionID, Clock: t.tombstones[sessionID].clock}}
		delete(t.tombstones, sessionID)
		t.entries[sessionID] = e
	}
	e.Clock++
	e.State = maps.Clone(state)
	e.origin = ""
	e.updated = t.now()
	return encode([]Entry{e.Entry})
}

// Clear drops a local session's entry on disconnect and returns the removal
// update, or nil when the session had no entry.
func (t *Tracker) Clear(sessionID string) []byte {
	e, ok := t.entries[sessionID]
	if !ok {
		return nil
	}
	return encode([]Entry{t.remove(e)})
}

// Apply merges an update received from another instance. It returns the
// entries that changed, encoded for local broadcast, or nil.
func (t *Tracker) Apply(origin string, payload []byte) ([]byte, error) {
	in, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	now := t.now()
	var changed []Entry
	for _, u := range in {
		if u.Session == "" {
			continue
		}
		if ts, ok := t.tombstones[u.Session]; ok && u.Clock <= ts.clock {
			continue
		}
		e, ok := t.entries[u.Session]
		if ok && u.Clock <= e.Clock {
			if u.Clock == e.Clock && e.origin != "" {
				e.updated = now
			}
			continue
		}
		if ok && e.origin == "" {
			// never let a remote copy override a session attached here
			continue
		}
		if u.Removed {
			delete(t.entries, u.Session)
			t.tombstones[u.Session] = tombstone{clock: u.Clock, removed: now}
			changed = append(changed, Entry{Session: u.Session, Clock: u.Clock, Removed: true})
			continue
		}
		if !ok {
			delete(t.tombstones, u.Session)
			e = &entry{}
			t.entries[u.Session] = e
		}
		e.Entry = Entry{Session: u.Session, Clock: u.Clock, State: maps.Clone(u.State)}
		e.origin = origin
		e.updated = now
		changed = append(changed, e.Entry)
	}
	if len(changed) == 0 {
		return nil, nil
	}
	return encode(changed), nil
}

// ClearOrigin drops every entry received from the given instance.
func (t *Tracker) ClearOrigin(origin string) []byte {
	if origin == "" {
		return nil
	}
	return t.removeWhere(func(e *entry) bool { return e.origin == origin })
}

// ExpireRemote drops remote entries that were not refreshed since before,
// and forgets tombstones older than before.
func (t *Tracker) ExpireRemote(before time.Time) []byte {
	for s, ts := range t.tombstones {
		if ts.removed.Before(before) {
			delete(t.tombstones, s)
		}
	}
	return t.removeWhere(func(e *entry) bool { return e.origin != "" && e.updated.Before(before) })
}

// Snapshot encodes every live entry, local and remote.
func (t *Tracker) Snapshot() []byte {
	return t.collect(func(*entry) bool { return true })
}

// Local encodes the entries of sessions attached to this instance, for
// periodic re-announcement to other instances.
func (t *Tracker) Local() []byte {
	return t.collect(func(e *entry) bool { return e.origin == "" })
}

// Len returns the number of live entries.
func (t *Tracker) Len() int {
	return len(t.entries)
}

// Get returns the state of a session.
func (t *Tracker) Get(sessionID string) (map[string]string, bool) {
	e, ok := t.entries[sessionID]
	if !ok {
		return nil, false
	}
	return maps.Clone(e.State), true
}

func (t *Tracker) remove(e *entry) Entry {
	delete(t.entries, e.Session)
	clock := e.Clock + 1
	t.tombstones[e.Session] = tombstone{clock: clock, removed: t.now()}
	return Entry{Session: e.Session, Clock: clock, Removed: true}
}

func (t *Tracker) removeWhere(match func(*entry) bool) []byte {
	var removed []Entry
	for _, s := range slices.Sorted(maps.Keys(t.entries)) {
		if e := t.entries[s]; match(e) {
			removed = append(removed, t.remove(e))
		}
	}
	if len(removed) == 0 {
		return nil
	}
	return encode(removed)
}

func (t *Tracker) collect(match func(*entry) bool) []byte {
	out := make([]Entry, 0, len(t.entries))
	for _, s := range slices.Sorted(maps.Keys(t.entries)) {
		if e := t.entries[s]; match(e) {
			out = append(out, e.Entry)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return encode(out)
}

// Decode parses an awareness update.
func Decode(payload []byte) ([]Entry, error) {
	var out []Entry
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, domain.ErrProtocol.WithCause(err).WithDetails("awareness update")
	}
	return out, nil
}

// DecodeState parses the state a client sends for its own session.
func DecodeState(payload []byte) (map[string]string, error) {
	state := map[string]string{}
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, domain.ErrProtocol.WithCause(err).WithDetails("awareness state")
	}
	return state, nil
}

func encode(entries []Entry) []byte {
	b, err := json.Marshal(entries)
	if err != nil {
		// map[string]string and plain fields always marshal
		panic(err)
	}
	return b
}
