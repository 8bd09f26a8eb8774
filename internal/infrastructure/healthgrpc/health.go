package healthgrpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
	"github.com/GriffinCanCode/browserbox/internal/supervisor"
)

// Overall is the service name that reports the whole session.
const Overall = ""

// Source publishes component records.
type Source interface {
	Records() []supervisor.Record
	Subscribe(fn func(supervisor.Record))
}

// Options configures a Server.
type Options struct {
	Addr            string
	Source          Source
	Tracer          *tracing.Tracer
	Logger          *logging.Logger
	ShutdownTimeout time.Duration
}

// Server serves grpc.health.v1 with one service per component.
type Server struct {
	opts   Options
	log    *logging.Logger
	health *health.Server

	mu      sync.Mutex
	records map[string]supervisor.Record
	addr    net.Addr
	bound   chan struct{}
}

// New creates the health server and starts mirroring the source.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		opts:    opts,
		log:     opts.Logger.Component("health"),
		health:  health.NewServer(),
		records: make(map[string]supervisor.Record),
		bound:   make(chan struct{}),
	}

	s.health.SetServingStatus(Overall, healthpb.HealthCheckResponse_NOT_SERVING)
	if opts.Source != nil {
		for _, rec := range opts.Source.Records() {
			s.observe(rec)
		}
		opts.Source.Subscribe(s.observe)
	}
	return s
}

func (s *Server) observe(rec supervisor.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.Name] = rec
	s.health.SetServingStatus(rec.Name, servingStatus(rec.State))
	s.health.SetServingStatus(Overall, s.overallLocked())
}

// overallLocked is SERVING only while every autostart component is Running.
func (s *Server) overallLocked() healthpb.HealthCheckResponse_ServingStatus {
	for _, rec := range s.records {
		if rec.Autostart && rec.State != supervisor.StateRunning {
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return healthpb.HealthCheckResponse_SERVING
}

func servingStatus(state supervisor.State) healthpb.HealthCheckResponse_ServingStatus {
	if state.Up() {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Run serves until ctx ends. A bind failure is a port conflict.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrPortConflict, err)
	}

	var opts []grpc.ServerOption
	if s.opts.Tracer != nil {
		opts = append(opts,
			grpc.ChainUnaryInterceptor(tracing.GRPCUnaryInterceptor(s.opts.Tracer)),
			grpc.ChainStreamInterceptor(tracing.GRPCStreamInterceptor(s.opts.Tracer)),
		)
	}
	opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
		MinTime:             30 * time.Second,
		PermitWithoutStream: true,
	}))
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, s.health)

	s.mu.Lock()
	s.addr = ln.Addr()
	close(s.bound)
	s.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	s.log.Info("Listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	// Watchers see NOT_SERVING before the connection goes away.
	s.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(s.opts.ShutdownTimeout):
		s.log.Warn("Graceful stop timed out")
		srv.Stop()
		<-stopped
	}
	<-serveErr
	s.log.Info("Stopped")
	return nil
}

// Addr returns the bound address once Run is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Bound is closed once the listener is up.
func (s *Server) Bound() <-chan struct{} { return s.bound }

// Check asks the health service at addr about one service ("" for the whole
// session).
func Check(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(tracing.GRPCUnaryClientInterceptor()),
	)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to dial health service: %w", err)
	}
	defer conn.Close()

	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return res.GetStatus(), nil
}
