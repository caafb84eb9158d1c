// Package command defines the docsync-cli commands.
//
// Admin commands talk to a server through internal/cli/connection. The
// edit command joins a document as a regular client, and the token and
// admin commands work offline.
package command
