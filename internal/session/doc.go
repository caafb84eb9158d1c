// Package session runs one client connection.
//
// A connection starts with a handshake frame naming the document, the
// access token and the client's state vector. Once the token is accepted
// the session joins the document's room and then forwards update and
// awareness frames to it in receive order until the connection ends.
//
// Outbound frames go through a bounded queue drained by a single writer.
// A peer that cannot keep up is disconnected instead of slowing the room.
// The session closes with an error frame when it:
//
//   - sends a malformed or unexpected frame, or one over the size limit
//   - sends updates faster than the configured rate
//   - stays silent for MissedHeartbeats heartbeat intervals
//   - is terminated by its room
package session
