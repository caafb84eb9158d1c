// Package crdt implements the replicated document state of a room.
//
// A Doc is a sequence CRDT of runes in the YATA family. Every rune is an
// item identified by ID{Client, Clock}, where Clock is a per-replica logical
// counter. An item remembers the item to its left (origin) and right
// (rightOrigin) at the moment it was inserted. Concurrent inserts between
// the same neighbours are ordered by client id, lower first, so any two
// replicas that saw the same set of updates hold the same sequence no matter
// the delivery order.
//
// Updates, snapshots and diffs share one binary format built from protobuf
// varints: a codec version byte, a list of items and a delete set. Items
// whose dependencies have not arrived yet are kept pending and integrated
// as soon as the missing items show up. Deletions of unknown items are
// pending in the same way.
//
// A Doc is not safe for concurrent use. The room that owns it serializes
// every call.
package crdt
