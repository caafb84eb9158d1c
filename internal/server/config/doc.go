// Package config defines the docsync-server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation
//   - sanitize.go: masking secrets for logs
//   - convert.go: mapping sections onto component configurations
//
// Configuration is loaded via internal/infra/confloader from a YAML file
// and DOCSYNC_ environment variables.
package config
