// Package tlsroots loads TLS material for docsync-server.
//
// CertReloader serves the HTTPS certificate and swaps it in when the
// certificate or key file is replaced on disk, so rotated certificates
// take effect without dropping live WebSocket sessions. ClientConfig
// builds the trust configuration for outbound TLS, such as a rediss://
// relay signed by a private CA.
package tlsroots
