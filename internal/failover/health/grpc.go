package health

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// PrimaryService is the gRPC health service name that follows the primary
// store. The empty service name reports the process itself.
const PrimaryService = "cafepos.primary"

// GRPCServer serves the standard gRPC health protocol.
type GRPCServer struct {
	port   int
	health *grpchealth.Server
	server *grpc.Server
}

// NewGRPCServer creates a gRPC health server kept in sync with ctrl.
func NewGRPCServer(ctrl *Controller, port int) *GRPCServer {
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(PrimaryService, servingStatus(ctrl.ShouldPreferPrimary()))
	ctrl.Subscribe(func(t Transition) {
		hs.SetServingStatus(PrimaryService, servingStatus(t.Recovered))
	})

	return &GRPCServer{port: port, health: hs, server: srv}
}

// Start listens and serves until Stop.
func (s *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", s.port, err)
	}
	return s.server.Serve(lis)
}

// Stop marks every service as not serving and drains connections.
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

func servingStatus(up bool) healthpb.HealthCheckResponse_ServingStatus {
	if up {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
