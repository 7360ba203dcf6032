package httpapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const grpcServiceName = "sidra.api"

// GRPCServer exposes readiness over the standard grpc.health.v1 service,
// mirroring the HTTP /readyz probe.
type GRPCServer struct {
	srv    *grpc.Server
	health *health.Server
	probe  ReadyProbe
}

func NewGRPCServer(rp ReadyProbe) *GRPCServer {
	g := &GRPCServer{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		probe:  rp,
	}
	healthpb.RegisterHealthServer(g.srv, g.health)
	g.health.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_SERVING)
	return g
}

// Serve blocks on the listener and keeps the health status in sync with
// the readiness probe until the context ends.
func (g *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go g.watch(ctx)
	return g.srv.Serve(lis)
}

func (g *GRPCServer) watch(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.refresh(ctx)
		}
	}
}

func (g *GRPCServer) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	if err := g.probe.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus(grpcServiceName, status)
}

func (g *GRPCServer) GracefulStop() {
	g.health.Shutdown()
	g.srv.GracefulStop()
}
