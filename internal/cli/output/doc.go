// Package output renders docsync-cli results as tables, JSON or YAML.
//
// Table output is produced by values implementing Tabular; anything else
// falls back to JSON.
package output
