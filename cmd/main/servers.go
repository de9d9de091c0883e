package main

import (
	"context"
	"fmt"
	"time"

	"screener-engine/src/config"
	"screener-engine/src/grpc_control"
	"screener-engine/src/interfaces"
	"screener-engine/src/logger"
	"screener-engine/src/server"

	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	healthInterval  = 5 * time.Second
)

// -----------------------------------------------------------------------------

// startServers runs the HTTP API and, when a port is configured, the gRPC
// health server inside g. Both stop when ctx is done.
func startServers(ctx context.Context, g *errgroup.Group, srv *server.APIServer, db interfaces.IDatabase, cfg *config.Config, appLogger *logger.Logger) {

	// 1. HTTP API
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		appLogger.Info("Stopping HTTP server...")
		return srv.Stop(sctx)
	})

	// 2. gRPC health
	if cfg.GrpcPort == 0 {
		return
	}
	control := grpc_control.NewControlService(db, healthInterval, logger.NewLogger(cfg.MConfig, "ControlService"))
	g.Go(func() error {
		return control.ListenAndServe(ctx, fmt.Sprintf("%s:%d", cfg.GrpcHost, cfg.GrpcPort))
	})
}
