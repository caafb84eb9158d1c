// Package protocol defines the binary frames exchanged with sync clients.
//
// Every transport message carries exactly one frame: a kind byte followed by
// the payload. Update and awareness payloads are passed through opaque.
// Handshake and error payloads are small messages encoded with the protobuf
// wire format so that fields can be added without breaking old clients.
//
//	+------+----------------------+
//	| kind |  payload (0..n)      |
//	+------+----------------------+
package protocol
