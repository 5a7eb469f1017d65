// Package liveness exposes the detection loop's health over gRPC.
//
// It wraps the standard grpc.health.v1 service: the monitor service is
// SERVING while the loop keeps beating and NOT_SERVING once the loop stops or
// its beats go stale.
package liveness
