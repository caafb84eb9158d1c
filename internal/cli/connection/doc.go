// Package connection talks to a docsync-server admin API.
//
// A target is either an HTTP(S) address, which needs an admin key, or the
// path of the server's local socket (unix:///run/docsync/admin.sock or a
// bare absolute path), which does not.
package connection
