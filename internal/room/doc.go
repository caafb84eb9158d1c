// Package room manages the open documents of one server instance.
//
// Every open document has a Room: a goroutine that owns the document's
// replicated state, its presence tracker and the set of attached peers.
// Everything that touches that state is sent to the room's mailbox, so
// merges for one document are serialized while different documents run
// in parallel.
//
// Lifecycle:
//
//	hydrating -> draining -> active <-> draining -> closed
//
// A room hydrates from the persistence adapter on the first join, stays
// active while peers are attached and drains for the grace period after
// the last one leaves. Closing flushes the final snapshot, unsubscribes
// from the relay and tells the other instances with a room-closed message.
//
// Persistence is debounced: each change restarts a quiet timer, and a
// second timer bounds the delay under a continuous stream of changes.
// Saves run off the room goroutine. A version conflict merges the stored
// snapshot into the live state and saves again.
package room
