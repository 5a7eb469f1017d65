// Package common holds helpers shared by the monitor and the probe.
//
// It provides a gRPC health client wrapper with call timeouts and detection of
// the host and user the monitor runs as, which tags published events.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
