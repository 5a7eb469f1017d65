// Package version exposes build metadata of the drowsy-alarm binaries.
//
// Version, Commit, BuildTime and Tags are injected with -ldflags -X and keep
// their defaults in local builds.
package version
