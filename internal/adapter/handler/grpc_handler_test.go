package handler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthChecker_PublishesStatus(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ctx := context.Background()

	dep := &togglePinger{}
	h := NewHealthChecker(map[string]Pinger{"mysql": dep}, logger)

	require.NoError(t, h.Check(ctx))
	resp, err := h.server.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	dep.err = errors.New("down")
	assert.Error(t, h.Check(ctx))
	resp, err = h.server.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

type togglePinger struct{ err error }

func (p *togglePinger) Ping(context.Context) error { return p.err }

func TestHealthChecker_RunWithoutInterval(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	for _, interval := range []time.Duration{0, -time.Second} {
		h := NewHealthChecker(map[string]Pinger{"mysql": &togglePinger{}}, logger)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			h.Run(ctx, interval)
			close(done)
		}()

		require.Eventually(t, func() bool {
			resp, err := h.server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
			return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
		}, time.Second, 10*time.Millisecond)

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("Run(%v) did not return after cancel", interval)
		}
	}
}
