// Package httpserver serves the docsync HTTP surface:
//
//   - GET /v1/documents/{id}/sync: the WebSocket sync endpoint
//   - GET /health, GET /ready: liveness and readiness probes
//   - GET /metrics: Prometheus metrics
//   - /admin/v1/*: room inspection, flush and snapshot export
//
// Routes are registered on a stdlib ServeMux. Each route group gets its own
// middleware chain: request ids, access logging and panic recovery for all
// of them, admin key and network ACL checks for the admin API.
package httpserver
