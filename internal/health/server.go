// Package health reports proxy liveness over the standard gRPC health
// checking protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ppiankov/proxyvisor/internal/supervisor"
)

// ServiceName is the health service reporting the supervised proxy.
const ServiceName = "proxyvisor.Proxy"

// Server is a gRPC server carrying only the health service.
type Server struct {
	addr       string
	grpcServer *grpc.Server
	health     *grpchealth.Server
	logger     *zap.Logger
}

// New creates a health server for addr. Both the overall status and
// ServiceName start as NOT_SERVING.
func New(addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:       addr,
		grpcServer: grpc.NewServer(),
		health:     grpchealth.NewServer(),
		logger:     logger.Named("health"),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	s.SetServing(false)
	return s
}

// SetServing flips the overall and proxy service status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// RecordProcess mirrors a supervisor status change.
func (s *Server) RecordProcess(st supervisor.Status) {
	s.SetServing(st.Running)
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health server failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("health server listening", zap.String("addr", lis.Addr().String()))

	doneCh := make(chan struct{})
	defer close(doneCh)
	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info("health server shutting down")
			s.health.Shutdown()
			s.grpcServer.GracefulStop()
		case <-doneCh:
		}
	}()

	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("health server failed: %w", err)
	}
	s.logger.Info("health server terminated")
	return nil
}
