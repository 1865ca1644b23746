// Package version holds the build-time version string printed by the CLI.
package version

// Version is overridden at build time via -ldflags "-X ...version.Version=...".
var Version = "dev"
