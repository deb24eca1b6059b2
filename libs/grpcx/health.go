package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/agenda-clinica/agenda/libs/runtime"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthServer exposes the standard grpc.health.v1 service, driven by the same
// dependency probes as the HTTP /readyz endpoint.
type HealthServer struct {
	srv     *grpc.Server
	health  *health.Server
	checks  runtime.ReadyChecks
	service string
	logger  *slog.Logger
}

func NewHealthServer(logger *slog.Logger, service string, checks runtime.ReadyChecks) *HealthServer {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLogInterceptor(logger),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return &HealthServer{srv: srv, health: hs, checks: checks, service: service, logger: logger}
}

// Refresh runs the probes once and publishes the result for both the overall
// ("") and the named service.
func (h *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if failures := h.checks.Failures(ctx); len(failures) > 0 {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		h.logger.Warn("grpc health not serving", "failures", failures)
	}
	h.health.SetServingStatus("", st)
	h.health.SetServingStatus(h.service, st)
	return st
}

// Serve blocks until ctx is cancelled or the listener fails. Probes are
// re-evaluated every interval.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h.Refresh(ctx)

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				h.health.Shutdown()
				h.srv.GracefulStop()
				return
			case <-t.C:
				h.Refresh(ctx)
			}
		}
	}()

	err := h.srv.Serve(lis)
	if err == grpc.ErrServerStopped {
		return nil
	}
	return err
}
