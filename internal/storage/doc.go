// Package storage persists document snapshots.
//
// A Store keeps one PersistenceRecord per document and enforces optimistic
// concurrency: Save names the version it expects to replace and fails with
// domain.ErrPersistenceConflict when another writer got there first. Three
// stores are provided, selected by DSN scheme:
//
//   - memory://          in-process map, for tests and single-node development
//   - badger:///var/lib  embedded Badger database
//   - postgres://...     shared PostgreSQL table, for multi-instance deployments
//
// The Adapter wraps a Store with per-operation timeouts, bounded retries and
// checksum verification. Rooms only talk to the Adapter.
package storage
