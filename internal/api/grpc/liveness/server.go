package liveness

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/drowsy-alarm/internal/logger"
)

const (
	// ServiceName is the health service name of the detection loop.
	ServiceName = "drowsy.v1.Monitor"
	// DefaultStaleAfter is how long the loop may go without a beat.
	DefaultStaleAfter = time.Second
)

// Server tracks loop heartbeats and publishes them through the health service.
// It implements the pipeline's Heartbeat.
type Server struct {
	health     *health.Server
	staleAfter time.Duration
	now        func() time.Time

	// mu protects lastBeat, serving and stopped.
	mu       sync.Mutex
	lastBeat time.Time
	serving  bool
	stopped  bool
}

// Option configures a Server.
type Option func(*Server)

// WithStaleAfter overrides the beat staleness threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithClock overrides the time source used by the staleness check.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer returns a server reporting NOT_SERVING until the first beat.
func NewServer(opts ...Option) *Server {
	s := &Server{
		health:     health.NewServer(),
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)

	return s
}

// Register attaches the health service to a gRPC server.
func (s *Server) Register(registrar grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(registrar, s.health)
}

// Beat records a loop tick and flips the status to SERVING if needed.
func (s *Server) Beat(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	s.lastBeat = at

	if !s.serving {
		s.serving = true
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
	}
}

// Stopped reports NOT_SERVING for good.
func (s *Server) Stopped() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.serving = false
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
}

// Serving reports whether the loop is considered alive.
func (s *Server) Serving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.serving
}

// Watch periodically demotes a loop whose beats went stale.
// It blocks until ctx is canceled.
func (s *Server) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.staleAfter / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkStale(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING and rejects further updates.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.serving = false
	s.health.Shutdown()
}

// checkStale flips the status when the last beat is too old.
func (s *Server) checkStale(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.serving {
		return
	}

	idle := s.now().Sub(s.lastBeat)
	if idle < s.staleAfter {
		return
	}

	s.serving = false
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)

	logger.WarnKV(ctx, "Detection loop stalled", "idle", idle.String())
}

// setStatus updates both the overall and the monitor service status.
func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
