// Package main provides the entry point for docsync-cli.
//
// The CLI manages docsync servers and documents:
//
//   - Server status, health and readiness
//   - Open rooms: list, show, flush
//   - Snapshots: inspect and export, from the server or a file
//   - Editing a document as a regular client
//   - Issuing access tokens and hashing admin keys
//
// Usage:
//
//	docsync-cli [global flags] command [flags] [args]
//	docsync-cli --server unix:///run/docsync/admin.sock rooms
//	docsync-cli -o json snapshot inspect --text team/notes
//	docsync-cli edit --append "hello" notes
package main
