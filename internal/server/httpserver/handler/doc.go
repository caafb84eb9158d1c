// Package handler implements the docsync HTTP endpoints.
//
// JSON responses share one envelope (see Response). Domain errors map to
// HTTP statuses by the last four digits of their code.
//
//   - sync.go: WebSocket upgrade and the session.Conn adapter
//   - admin.go: room listing, flush and snapshot export
//   - health.go: liveness and readiness checks
package handler
