// Package main provides the entry point for docsync-server.
//
// The server hosts collaborative documents:
//
//   - WebSocket sync endpoint at /v1/documents/{id}/sync
//   - Health, readiness and Prometheus metrics endpoints
//   - Admin API for rooms, guarded by admin keys
//   - Local Unix socket serving the admin API without a key
//
// Usage:
//
//	docsync-server [flags]
//	docsync-server --config /etc/docsync/server.yaml
//	DOCSYNC_RELAY__BACKEND=redis docsync-server --config server.yaml
//
// Changing log.level in the configuration file takes effect without a
// restart.
package main
