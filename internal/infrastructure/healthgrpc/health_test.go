package healthgrpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
	"github.com/GriffinCanCode/browserbox/internal/supervisor"
)

type fakeSource struct {
	mu        sync.Mutex
	records   []supervisor.Record
	listeners []func(supervisor.Record)
}

func (f *fakeSource) Records() []supervisor.Record { return f.records }

func (f *fakeSource) Subscribe(fn func(supervisor.Record)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

func (f *fakeSource) emit(rec supervisor.Record) {
	f.mu.Lock()
	listeners := append([]func(supervisor.Record){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(rec)
	}
}

func startServer(t *testing.T, opts Options) *Server {
	t.Helper()
	opts.Addr = "127.0.0.1:0"
	s := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	select {
	case <-s.Bound():
	case err := <-done:
		t.Fatalf("server exited: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server never bound")
	}
	return s
}

func check(t *testing.T, s *Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := Check(ctx, s.Addr().String(), service)
	require.NoError(t, err)
	return status
}

func TestMirrorsComponentStates(t *testing.T) {
	src := &fakeSource{records: []supervisor.Record{
		{Name: "display", State: supervisor.StateRunning, Autostart: true},
		{Name: "browser", State: supervisor.StateStarting, Autostart: true},
		{Name: "recorder", State: supervisor.StateStopped},
	}}
	s := startServer(t, Options{Source: src})

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, s, "display"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, s, "browser"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, s, Overall))

	src.emit(supervisor.Record{Name: "browser", State: supervisor.StateRunning, Autostart: true})
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, s, "browser"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, s, Overall), "stopped non-autostart components do not count")

	src.emit(supervisor.Record{Name: "browser", State: supervisor.StateDegraded, Autostart: true})
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, s, "browser"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, s, Overall))
}

func TestUnknownService(t *testing.T) {
	s := startServer(t, Options{Source: &fakeSource{}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Check(ctx, s.Addr().String(), "nope")
	assert.Error(t, err)
}

func TestTracesCalls(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tracer := tracing.New(logging.Wrap(zap.New(core)))
	defer tracer.Close()

	s := startServer(t, Options{Source: &fakeSource{}, Tracer: tracer})

	ctx := tracing.WithRequestID(context.Background(), "req_health")
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := Check(ctx, s.Addr().String(), Overall)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, e := range logs.All() {
			if e.ContextMap()["request_id"] == "req_health" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPortConflict(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := New(Options{Addr: ln.Addr().String()})
	assert.ErrorIs(t, s.Run(t.Context()), errs.ErrPortConflict)
}
