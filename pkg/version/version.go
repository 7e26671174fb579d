// Package version holds the application version string.
package version

// Version is the current Milepost release. Overridden at build time via
// -ldflags "-X milepost/pkg/version.Version=...".
var Version = "0.3.0"
