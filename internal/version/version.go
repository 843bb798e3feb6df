// Package version holds build-time version metadata injected via -ldflags.
package version

// Version is the semantic version of the binary, e.g. "v0.3.0".
// Overridden at build time: -ldflags "-X .../internal/version.Version=v0.3.0".
var Version = "dev"

// Commit is the short git commit hash the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build timestamp in RFC 3339 format.
var BuildDate = "unknown"
