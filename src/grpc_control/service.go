// Package grpc_control exposes the standard gRPC health service for
// orchestrators, backed by store pings.
package grpc_control

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"screener-engine/src/interfaces"
	"screener-engine/src/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RefreshService is the service name reported alongside the overall ("")
// status.
const RefreshService = "screener.Refresh"

const (
	probeTimeout    = 2 * time.Second
	defaultInterval = 10 * time.Second
)

// ControlService serves grpc.health.v1.Health and keeps its status in line
// with the store.
type ControlService struct {
	Store    interfaces.IDatabase
	Logger   *logger.Logger
	Interval time.Duration

	health  *health.Server
	grpc    *grpc.Server
	serving atomic.Bool
}

// NewControlService creates a new instance of ControlService
func NewControlService(store interfaces.IDatabase, interval time.Duration, log *logger.Logger) *ControlService {
	if interval <= 0 {
		interval = defaultInterval
	}
	s := &ControlService{
		Store:    store,
		Logger:   log,
		Interval: interval,
		health:   health.NewServer(),
		grpc:     grpc.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// -----------------------------------------------------------------------------

// Probe pings the store once and publishes the result.
func (s *ControlService) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := s.Store.Ping(ctx)
	ok := err == nil
	if s.serving.Swap(ok) != ok && s.Logger != nil {
		if ok {
			s.Logger.Info("store reachable, reporting SERVING")
		} else {
			s.Logger.Warning("store ping failed, reporting NOT_SERVING: %v", err)
		}
	}

	if ok {
		s.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

func (s *ControlService) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(RefreshService, status)
}

// -----------------------------------------------------------------------------

// Serve probes every Interval and serves on lis until ctx is done.
func (s *ControlService) Serve(ctx context.Context, lis net.Listener) error {
	s.Probe(ctx)

	go func() {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-ticker.C:
				s.Probe(ctx)
			}
		}
	}()

	if s.Logger != nil {
		s.Logger.Info("Starting gRPC health server on %s", lis.Addr())
	}
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// ListenAndServe is Serve on a fresh TCP listener.
func (s *ControlService) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}
	return s.Serve(ctx, lis)
}
