// Package buildinfo carries version metadata injected at link time.
package buildinfo

// Version is the gateway version reported by /health and compared against
// the update manifest. Override with -ldflags "-X cliproxy/internal/buildinfo.Version=...".
var Version = "2.2.5"

// Build is the commit or build identifier.
var Build = "dev"
