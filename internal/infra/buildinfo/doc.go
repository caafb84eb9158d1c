// Package buildinfo reports the version of the running binary.
//
// Values are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/docsync-go/internal/infra/buildinfo.Version=v1.0.0"
//
// Without ldflags the commit and Go version come from the module build
// information embedded by the toolchain.
package buildinfo
