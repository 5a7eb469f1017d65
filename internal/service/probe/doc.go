// Package probe queries a running monitor's health endpoint.
package probe
