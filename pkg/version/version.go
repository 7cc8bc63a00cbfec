package version

// Version is the current askzine release. Overridden at build time via
// -ldflags "-X askzine/pkg/version.Version=...".
var Version = "0.3.0-dev"
