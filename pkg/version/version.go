// Package version holds the build version of vocabvoice.
package version

// Version is overridden at build time via -ldflags "-X vocabvoice/pkg/version.Version=...".
var Version = "v0.3.1"
