// Package relay fans room traffic out across server instances.
//
// Every instance subscribes to the documents it has rooms open for and
// publishes the deltas its local sessions produce. Messages carry the
// origin instance id; an instance ignores its own messages. Delivery is
// at-least-once and unordered; rooms rely on idempotent CRDT merges to
// make that safe.
//
// Backends:
//
//   - Redis pub/sub, one channel per document (RedisRelay)
//   - memberlist gossip between the instances themselves (GossipRelay)
//   - an in-process bus for single-instance mode and tests (Bus)
//
// When a backend loses and regains connectivity it runs the OnReconnect
// callbacks so rooms can ask peers to resynchronize instead of assuming
// that messages sent in between were retained.
package relay
