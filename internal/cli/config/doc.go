// Package config holds docsync-cli settings.
//
// Settings come from ~/.config/docsync/cli.yaml, then DOCSYNC_CLI_*
// environment variables, then command line flags.
package config
