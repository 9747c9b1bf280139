package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"trustmesh.org/internal/obs"
)

// GRPCHealthServer exposes the readiness probe over the standard gRPC
// health protocol, mirroring /readyz.
type GRPCHealthServer struct {
	healthpb.UnimplementedHealthServer

	readiness readinessChecker
}

// NewGRPCHealthServer creates the gRPC health wrapper.
func NewGRPCHealthServer(r readinessChecker) *GRPCHealthServer {
	return &GRPCHealthServer{readiness: r}
}

// RegisterGRPC attaches the health service to a gRPC server.
func RegisterGRPC(s *grpc.Server, r readinessChecker) {
	healthpb.RegisterHealthServer(s, NewGRPCHealthServer(r))
}

func (s *GRPCHealthServer) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &healthpb.HealthCheckResponse{
			Status: healthpb.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{
		Status: healthpb.HealthCheckResponse_SERVING,
	}, nil
}

func (s *GRPCHealthServer) Watch(_ *healthpb.HealthCheckRequest, _ healthpb.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "health watch is not supported")
}
