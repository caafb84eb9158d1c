package room

import (
	"hash/maphash"
	"sync"
)

// defaultShardCount is the registry shard count when none is configured.
const defaultShardCount = 16

// registry maps document ids to open rooms. Rooms are spread over shards
// so joins for unrelated documents do not contend on one lock.
type registry struct {
	shards []*registryShard
	mask   uint64
	seed   maphash.Seed
}

type registryShard struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// newRegistry returns an empty registry. shardCount must be a power of 2;
// anything else falls back to the default.
func newRegistry(shardCount int) *registry {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = defaultShardCount
	}
	r := &registry{
		shards: make([]*registryShard, shardCount),
		mask:   uint64(shardCount - 1),
		seed:   maphash.MakeSeed(),
	}
	for i := range r.shards {
		r.shards[i] = &registryShard{rooms: make(map[string]*Room)}
	}
	return r
}

func (r *registry) shard(documentID string) *registryShard {
	return r.shards[maphash.String(r.seed, documentID)&r.mask]
}

// get returns the open room for documentID.
func (r *registry) get(documentID string) (*Room, bool) {
	s := r.shard(documentID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[documentID]
	return room, ok
}

// getOrCreate returns the room for documentID, creating it with create when
// absent. The second result reports whether the room was created.
func (r *registry) getOrCreate(documentID string, create func() *Room) (*Room, bool) {
	s := r.shard(documentID)
	s.mu.RLock()
	room, ok := s.rooms[documentID]
	s.mu.RUnlock()
	if ok {
		return room, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[documentID]; ok {
		return room, false
	}
	room = create()
	s.rooms[documentID] = room
	return room, true
}

// remove deletes the entry for documentID only if it still points at room,
// so a closing room never evicts its successor.
func (r *registry) remove(documentID string, room *Room) bool {
	s := r.shard(documentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[documentID] != room {
		return false
	}
	delete(s.rooms, documentID)
	return true
}

// count returns the number of open rooms.
func (r *registry) count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.rooms)
		s.mu.RUnlock()
	}
	return n
}

// all returns the open rooms. The view is taken shard by shard and may not
// be consistent across shards.
func (r *registry) all() []*Room {
	out := make([]*Room, 0, r.count())
	for _, s := range r.shards {
		s.mu.RLock()
		for _, room := range s.rooms {
			out = append(out, room)
		}
		s.mu.RUnlock()
	}
	return out
}
