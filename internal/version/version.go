package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
	// Tags lists the optional backends compiled in, e.g. "opencv,speaker".
	Tags = ""
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with build metadata.
func Full() string {
	tags := Tags
	if tags == "" {
		tags = "none"
	}

	return fmt.Sprintf("version: %s, commit: %s, built at: %s, go: %s, tags: %s",
		Version, Commit, BuildTime, runtime.Version(), tags)
}
