package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name the gRPC health service reports on.
const ServiceName = "unit-inventory"

// Pinger is anything the service cannot work without.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker probes dependencies and publishes the result through the
// standard gRPC health service.
type HealthChecker struct {
	server *health.Server
	deps   map[string]Pinger
	logger logrus.FieldLogger
}

func NewHealthChecker(deps map[string]Pinger, logger logrus.FieldLogger) *HealthChecker {
	return &HealthChecker{
		server: health.NewServer(),
		deps:   deps,
		logger: logger,
	}
}

func (h *HealthChecker) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Check pings every dependency and updates the published status.
func (h *HealthChecker) Check(ctx context.Context) error {
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	h.server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run re-checks dependencies every interval until ctx is done. A non-positive
// interval checks once and keeps that status until shutdown.
func (h *HealthChecker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		if err := h.Check(ctx); err != nil {
			h.logger.WithError(err).Warn("dependency check failed")
		}
		<-ctx.Done()
		h.server.Shutdown()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		if err := h.Check(checkCtx); err != nil {
			h.logger.WithError(err).Warn("dependency check failed")
		}
		cancel()

		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
