// Package grpc serves the standard gRPC health protocol for the controller.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// Config holds the gRPC server configuration.
type Config struct {
	Port                 int
	MaxConcurrentStreams uint32
	KeepaliveTime        time.Duration
	KeepaliveTimeout     time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:                 9090,
		MaxConcurrentStreams: 100,
		KeepaliveTime:        30 * time.Second,
		KeepaliveTimeout:     10 * time.Second,
	}
}

// Server exposes grpc.health.v1 with one entry per controller subsystem.
type Server struct {
	config     *Config
	health     *health.Server
	grpcServer *grpc.Server
	logger     *slog.Logger

	serving atomic.Bool
}

// NewServer creates the server. All services start NOT_SERVING until the
// controller reports otherwise.
func NewServer(cfg *Config, services []string, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		health: health.NewServer(),
		logger: logger,
	}
	for _, svc := range services {
		s.health.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	s.grpcServer = grpc.NewServer(s.buildServerOptions()...)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	return s
}

// buildServerOptions constructs the gRPC server options.
func (s *Server) buildServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxConcurrentStreams(s.config.MaxConcurrentStreams),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    s.config.KeepaliveTime,
			Timeout: s.config.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(s.loggingInterceptor()),
		grpc.ChainStreamInterceptor(s.streamLoggingInterceptor()),
	}
}

// SetServing updates the health status of a service.
func (s *Server) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, st)
}

// Serve accepts connections on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	s.serving.Store(true)
	s.logger.Info("gRPC server starting", "address", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("serving gRPC: %w", err)
	}
	return nil
}

// Start listens on the configured port and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()

	return s.Serve(lis)
}

// GracefulStop marks every service NOT_SERVING and drains open RPCs.
func (s *Server) GracefulStop() {
	if !s.serving.Swap(false) {
		return
	}
	s.logger.Info("gRPC server stopping")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	s.logger.Info("gRPC server stopped gracefully")
}

// IsServing returns whether the server is currently serving requests.
func (s *Server) IsServing() bool {
	return s.serving.Load()
}
