// Package auth decides who may open which document.
//
// The sync engine does not own user accounts. It receives an opaque token
// in the handshake, asks an Authenticator for the identity behind it and
// an Authorizer for the intent that identity gets on the document:
//
//   - AllowAll grants everything (development, or auth done upstream).
//   - TokenAuthorizer verifies HMAC-SHA256 signed claims
//     {sub, docs, write, exp}, where docs are path.Match glob patterns.
//
// AdminKeys guards the operator API with Argon2id-hashed bearer keys.
package auth
