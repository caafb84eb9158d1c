// Package localserver serves the admin API on a Unix domain socket.
//
// Requests on the socket are not asked for an admin key. The socket file
// is created with mode 0600, so only the server's user (and root) can
// connect.
package localserver
