// Package domain defines the core domain values for docsync.
//
// Domain values carry no IO dependencies or framework coupling. This package
// contains:
//
//   - Document identifiers and their validation rules
//   - PersistenceRecord: the durable store's view of one document
//   - Intent: what a connection is allowed to do with a document
//   - Errors: structured error codes shared by every layer
package domain
