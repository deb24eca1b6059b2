package main

import (
	"context"
	"log/slog"
	"net"
	"strings"

	"github.com/agenda-clinica/agenda/libs/config"
	"github.com/agenda-clinica/agenda/libs/grpcx"
	"github.com/agenda-clinica/agenda/libs/runtime"
)

// startGRPCHealth serves grpc.health.v1 on GRPC_PORT. An empty port disables it.
func startGRPCHealth(ctx context.Context, logger *slog.Logger, service string, checks runtime.ReadyChecks) {
	if strings.TrimSpace(config.String("GRPC_PORT", "")) == "" {
		return
	}
	port, err := config.Port("GRPC_PORT", "")
	if err != nil {
		logger.Error("invalid GRPC_PORT", "err", err)
		return
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		logger.Error("grpc server failed to start", "err", err)
		return
	}

	hs := grpcx.NewHealthServer(logger, service, checks)
	go func() {
		logger.Info("grpc health server starting", "addr", lis.Addr().String())
		if err := hs.Serve(ctx, lis, config.Duration("GRPC_HEALTH_INTERVAL", 0)); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
}
