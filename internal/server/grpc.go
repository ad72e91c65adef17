package server

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mir00r/subscriber-dbi/internal/config"
	"github.com/mir00r/subscriber-dbi/pkg/logger"
)

// HealthService is the service name whose status tracks backend selection.
// The empty service name reports the same status.
const HealthService = "subscriber.dbi"

// GRPCServer exposes grpc.health.v1 for the subscriber data layer
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	addr   string
	logger *logger.Logger
}

// NewGRPCServer creates the health server. It starts NOT_SERVING until Sync
// reports a selected backend.
func NewGRPCServer(cfg config.GRPCConfig, log *logger.Logger) *GRPCServer {
	s := &GRPCServer{
		server: grpc.NewServer(),
		health: health.NewServer(),
		addr:   fmt.Sprintf(":%d", cfg.Port),
		logger: logger.OrNop(log).ServerLogger("grpc"),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Sync follows a backend selection change. Its signature matches the
// registry's change callback.
func (s *GRPCServer) Sync(name string, selected bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if selected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.setStatus(status)
	s.logger.WithField("interface", name).WithField("status", status.String()).Info("Health status updated")
}

func (s *GRPCServer) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(HealthService, status)
}

// ListenAndServe listens on the configured port until ctx is done
func (s *GRPCServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then stops gracefully
func (s *GRPCServer) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.WithField("addr", ln.Addr().String()).Info("Starting gRPC health server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.health.Shutdown()
	s.server.GracefulStop()
	<-errCh
	s.logger.Info("gRPC health server stopped")
	return nil
}
