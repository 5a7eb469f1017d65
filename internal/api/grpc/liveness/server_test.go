package liveness

import (
	"context"
	"net"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// startServer serves s over an in-memory listener and returns a health client.
func startServer(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	grpcServer := grpc.NewServer()
	s.Register(grpcServer)

	go func() {
		_ = grpcServer.Serve(lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()

		grpcServer.Stop()
	})

	return healthpb.NewHealthClient(conn)
}

// check returns the serving status of service.
func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)

	return resp.GetStatus()
}

// TestServer_ReportsLoopLiveness walks the status through its lifecycle.
func TestServer_ReportsLoopLiveness(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)
	s := NewServer(WithStaleAfter(time.Second), WithClock(func() time.Time { return now }))
	client := startServer(t, s)

	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))

	s.Beat(now)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceName))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))

	now = now.Add(500 * time.Millisecond)
	s.checkStale(context.Background())
	require.True(t, s.Serving())

	now = now.Add(time.Second)
	s.checkStale(context.Background())
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))

	s.Beat(now)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceName))

	s.Stopped()
	s.Beat(now)
	require.False(t, s.Serving())
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))
}

// TestServer_UnknownService is rejected with NotFound.
func TestServer_UnknownService(t *testing.T) {
	t.Parallel()

	client := startServer(t, NewServer())

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "unknown"})
	require.Equal(t, codes.NotFound, status.Code(err))
}

// TestServer_Watch demotes a stalled loop.
func TestServer_Watch(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := NewServer(WithStaleAfter(100 * time.Millisecond))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go s.Watch(ctx)

		for range 5 {
			s.Beat(time.Now())
			time.Sleep(40 * time.Millisecond)
		}

		require.True(t, s.Serving())

		time.Sleep(200 * time.Millisecond)
		synctest.Wait()
		require.False(t, s.Serving())
	})
}
