// Package metric defines the Prometheus metrics of docsync.
//
// Metrics are registered on an explicit registry so that tests can use a
// fresh one and several servers can live in one process. Exposition is
// served at /metrics through Handler.
//
// Metric families:
//
//   - docsync_rooms*: room lifecycle and dirty state
//   - docsync_sessions*: connected sessions and close reasons
//   - docsync_updates_total: merged updates by source and result
//   - docsync_persist_*: save and load outcomes and latency
//   - docsync_relay_*: relay traffic, errors and availability
//   - docsync_http_requests_total: HTTP access counts
package metric
