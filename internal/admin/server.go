// Package admin serves the relay's gRPC health and reflection endpoints.
package admin

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/gezibash/moq-relay/internal/observability"
)

// ServiceName is the health service that reports whether the relay accepts sessions.
const ServiceName = "moq.relay.Relay"

// Server is the admin gRPC server.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	health     *health.Server
}

// New listens on addr and registers the health service, and reflection when
// enableReflection is set. Both statuses start as NOT_SERVING.
func New(addr string, obs *observability.Observability, enableReflection bool, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	var metrics *observability.Metrics
	if obs != nil {
		metrics = obs.Metrics
	}

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(metrics)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(metrics)),
	}
	serverOpts = append(serverOpts, opts...)

	grpcServer := grpc.NewServer(serverOpts...)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	if enableReflection {
		reflection.Register(grpcServer)
	}

	return &Server{
		grpcServer: grpcServer,
		listener:   lis,
		health:     hs,
	}, nil
}

// SetServing flips the overall and relay health statuses.
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving admin calls until Stop.
func (s *Server) Serve() error {
	return s.grpcServer.Serve(s.listener)
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop marks the relay as not serving and drains in-flight calls, forcing
// the stop when ctx expires first.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("admin graceful stop timed out, forcing")
		s.grpcServer.Stop()
		<-done
	}
}
