package version

// Set at build time via -ldflags.
var (
	Version = "v0.1.0"
	Commit  = "unknown"
	BuiltAt = "unknown"
)

// Info returns the short version string.
func Info() string {
	return Version
}

// FullInfo returns version, commit, and build timestamp for startup logs.
func FullInfo() string {
	return "version=" + Version + " commit=" + Commit + " built_at=" + BuiltAt
}
