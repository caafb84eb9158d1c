// Package logger builds the process logger.
//
// It configures log/slog with a JSON or text handler, a process-wide level
// that can be changed at runtime, redaction of credential attributes and
// request ids taken from the context:
//
//   - logger.go: construction and level control
//   - context.go: request id propagation
//   - redact.go: credential masking
package logger
