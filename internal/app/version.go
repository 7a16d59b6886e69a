package app

import "cliproxy/internal/buildinfo"

// Version is the semantic version of cliproxy, set at build time via -ldflags.
var Version = buildinfo.Version

// Build is the git commit hash or build identifier, set at build time via -ldflags.
var Build = buildinfo.Build
