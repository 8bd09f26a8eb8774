package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/browserbox/internal/api/middleware"
	"github.com/GriffinCanCode/browserbox/internal/apikey"
	"github.com/GriffinCanCode/browserbox/internal/bridge"
	"github.com/GriffinCanCode/browserbox/internal/browser"
	"github.com/GriffinCanCode/browserbox/internal/display"
	"github.com/GriffinCanCode/browserbox/internal/domain/session"
	"github.com/GriffinCanCode/browserbox/internal/framebuffer"
	"github.com/GriffinCanCode/browserbox/internal/gateway"
	controlapi "github.com/GriffinCanCode/browserbox/internal/http"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/healthgrpc"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/server"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/browserbox/internal/lease"
	"github.com/GriffinCanCode/browserbox/internal/service"
	"github.com/GriffinCanCode/browserbox/internal/supervisor"
)

// Service names referenced by descriptors.
const (
	ServiceFramebuffer = "framebuffer"
	ServiceBridge      = "bridge"
	ServiceGateway     = "gateway"
)

// CriticalComponent is the component whose permanent failure ends the
// session.
const CriticalComponent = "display"

// Options configures a Sandbox.
type Options struct {
	Config  *config.Config
	Logger  *logging.Logger
	Version string
	// LookPath resolves the browser binary; exec.LookPath by default.
	LookPath func(file string) (string, error)
}

// Sandbox is one browser session: the supervised components plus the
// control surfaces around them.
type Sandbox struct {
	cfg *config.Config
	log *logging.Logger

	Session     *session.Session
	Metrics     *monitoring.Metrics
	Tracer      *tracing.Tracer
	Leases      *lease.Manager
	Keys        *apikey.Store
	Framebuffer *framebuffer.Server
	Bridge      *bridge.Bridge
	Gateway     *gateway.Gateway
	Supervisor  *supervisor.Supervisor
	Control     *server.HTTP
	Health      *healthgrpc.Server

	vars    supervisor.Variables
	profile browser.Profile
}

// New wires every component. Nothing starts until Run.
func New(opts Options) (*Sandbox, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	log := opts.Logger

	sb := &Sandbox{
		cfg:     cfg,
		log:     log.Component("sandbox"),
		Session: session.New(cfg),
		Tracer:  tracing.New(log),
		profile: browser.Profile{Dir: cfg.Session.ProfileDir, Persistent: cfg.Session.Persistent},
	}
	if !cfg.Telemetry.Disabled {
		sb.Metrics = monitoring.NewMetrics()
	}

	leaseOpts := lease.OptionsFrom(cfg.Automation)
	leaseOpts.Logger, leaseOpts.Metrics = log, sb.Metrics
	sb.Leases = lease.NewManager(leaseOpts)

	keys, err := apikey.NewStore(apikey.Options{Cost: cfg.Control.KeyCost, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("creating key store: %w", err)
	}
	sb.Keys = keys

	// Supervised services
	fbOpts := framebuffer.OptionsFrom(cfg.Framebuffer)
	fbOpts.Arbiter = framebuffer.NewArbiter(sb.Leases.Active, cfg.Automation.BlockViewerInput)
	fbOpts.Logger, fbOpts.Metrics = log, sb.Metrics
	sb.Framebuffer = framebuffer.NewServer(fbOpts)

	brOpts := bridge.OptionsFrom(cfg.Bridge, cfg.Framebuffer)
	brOpts.Logger, brOpts.Metrics = log, sb.Metrics
	sb.Bridge = bridge.New(brOpts)

	gwOpts := gateway.OptionsFrom(cfg.Browser)
	gwOpts.Leases, gwOpts.Logger = sb.Leases, log
	sb.Gateway = gateway.New(gwOpts)

	services := service.NewRegistry[service.Service]()
	services.MustRegister(ServiceFramebuffer, sb.Framebuffer)
	services.MustRegister(ServiceBridge, server.NewHTTP(server.Options{
		Name:    "bridge",
		Addr:    hostPort(cfg.Bridge.Host, cfg.Bridge.Port),
		Handler: sb.Bridge.Handler(),
		Logger:  log,
	}))
	services.MustRegister(ServiceGateway, server.NewHTTP(server.Options{
		Name:    "gateway",
		Addr:    hostPort(cfg.Automation.Host, cfg.Automation.Port),
		Handler: sb.Gateway.Handler(),
		Logger:  log,
	}))

	disp := display.New(sb.Session, cfg.Session.XvfbBinary)
	hooks := service.NewRegistry[service.Hook]()
	hooks.MustRegister(display.HookReset, disp.ResetHook(log.Component("display")))
	hooks.MustRegister(browser.HookProfile, sb.profile.Hook(log.Component("browser")))

	sb.vars = sb.variables(disp, opts.LookPath)
	table, err := supervisor.Load(cfg.Supervisor.Descriptors, sb.vars, supervisor.DefaultsFrom(cfg.Supervisor))
	if err != nil {
		return nil, err
	}
	sb.Supervisor, err = supervisor.New(supervisor.Options{
		Table:             table,
		Services:          services,
		Hooks:             hooks,
		Logger:            log,
		Metrics:           sb.Metrics,
		HealthInterval:    cfg.Supervisor.HealthInterval,
		ShutdownGrace:     cfg.Supervisor.ShutdownGrace,
		CriticalComponent: CriticalComponent,
	})
	if err != nil {
		return nil, err
	}

	// Control surfaces
	handlers := controlapi.NewHandlers(controlapi.Deps{
		Session:    sb.Session,
		Supervisor: sb.Supervisor,
		Viewers:    sb.Framebuffer,
		Leases:     sb.Leases,
		Keys:       sb.Keys,
		Digest:     sb.profile.Digest,
		Version:    opts.Version,
		Logger:     log,
	})
	routerOpts := controlapi.RouterOptions{
		Auth: middleware.AuthConfig{
			MasterKey: cfg.Control.MasterKey,
			Keys:      sb.Keys,
			OnFailure: sb.Metrics.IncAuthFailures,
		},
		CORS:          middleware.DefaultCORSConfig(),
		Tracer:        sb.Tracer,
		Metrics:       sb.Metrics,
		ExposeMetrics: !cfg.Telemetry.Disabled,
	}
	if cfg.RateLimit.Enabled {
		rl := middleware.RateLimitConfigFrom(cfg.RateLimit)
		routerOpts.RateLimit = &rl
	}
	sb.Control = server.NewHTTP(server.Options{
		Name:    "control",
		Addr:    hostPort(cfg.Control.Host, cfg.Control.Port),
		Handler: controlapi.NewRouter(handlers, routerOpts),
		Logger:  log,
		Gzip:    true,
	})

	if cfg.GRPC.HealthPort != "" {
		sb.Health = healthgrpc.New(healthgrpc.Options{
			Addr:   net.JoinHostPort(cfg.Control.Host, cfg.GRPC.HealthPort),
			Source: sb.Supervisor,
			Tracer: sb.Tracer,
			Logger: log,
		})
	}
	return sb, nil
}

// variables collects the placeholders descriptors may reference.
func (sb *Sandbox) variables(disp display.Display, lookPath func(string) (string, error)) supervisor.Variables {
	cfg := sb.cfg

	binary, err := browser.Locate(cfg.Browser.Binary, lookPath)
	if err != nil {
		// The browser component fails to start and reports it.
		sb.log.Warn("Browser binary not resolved", zap.Error(err))
		binary = cfg.Browser.Binary
		if binary == "" {
			binary = "chromium"
		}
	}

	browserVars := browser.Variables(binary, browser.Options{
		DebugPort:  cfg.Browser.DebugPort,
		ProfileDir: cfg.Session.ProfileDir,
		Width:      cfg.Session.Width,
		Height:     cfg.Session.Height,
		Extra:      cfg.Browser.ExtraArgs,
	})

	return disp.Variables().
		Merge(browserVars).
		Set("CAPTURE_BIN", cfg.Framebuffer.CaptureBin).
		Set("CAPTURE_PORT", strconv.Itoa(cfg.Framebuffer.CapturePort)).
		Set("STATE_DIR", cfg.Session.StateDir).
		Set("RFB_PROBE_ADDR", probeAddr(cfg.Framebuffer.Host, cfg.Framebuffer.Port)).
		Set("BRIDGE_PROBE_ADDR", probeAddr(cfg.Bridge.Host, cfg.Bridge.Port)).
		Set("AUTOMATION_PROBE_ADDR", probeAddr(cfg.Automation.Host, cfg.Automation.Port))
}

// Variables returns the resolved descriptor variables.
func (sb *Sandbox) Variables() supervisor.Variables { return sb.vars }

// Run starts the control surfaces and the supervisor, then blocks until ctx
// ends or a session-fatal failure occurs. It always shuts down in order:
// lease, components, control surfaces.
func (sb *Sandbox) Run(ctx context.Context) error {
	if sb.cfg.Control.MasterKey == "" {
		sb.log.Warn("API_MASTER_KEY is empty; control API authentication is disabled")
	}

	surfaceCtx, stopSurfaces := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSurfaces()

	surfaceErr := make(chan error, 2)
	surfaces := 0
	run := func(name string, svc service.Service) {
		surfaces++
		go func() {
			if err := svc.Run(surfaceCtx); err != nil {
				surfaceErr <- fmt.Errorf("%s: %w", name, err)
				return
			}
			surfaceErr <- nil
		}()
	}
	run("control", sb.Control)
	if sb.Health != nil {
		run("health", sb.Health)
	}

	select {
	case <-sb.Control.Bound():
	case err := <-surfaceErr:
		surfaces--
		stopSurfaces()
		sb.drain(surfaceErr, surfaces)
		sb.Tracer.Close()
		return err
	}

	if err := sb.Supervisor.Start(ctx); err != nil {
		stopSurfaces()
		sb.drain(surfaceErr, surfaces)
		sb.Tracer.Close()
		return err
	}

	stateDir := sb.cfg.Session.StateDir
	if err := sb.Session.Publish(stateDir); err != nil {
		sb.log.Warn("Publishing session failed", zap.Error(err))
	} else {
		sb.log.Info("Session published",
			zap.String("session_id", sb.Session.ID.String()),
			zap.String("display", sb.Session.Display()),
			zap.String("control", sb.Control.URL()))
	}

	go func() {
		if err := sb.Supervisor.WaitReady(ctx); err != nil {
			if ctx.Err() == nil {
				sb.log.Error("Session not ready", zap.Error(err))
			}
			return
		}
		sb.log.Info("Session ready")
	}()

	var result error
	select {
	case <-ctx.Done():
		sb.log.Info("Shutdown requested")
	case err := <-sb.Supervisor.Fatal():
		result = err
	case err := <-surfaceErr:
		surfaces--
		result = err
	}

	sb.Leases.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sb.cfg.Supervisor.ShutdownGrace+5*time.Second)
	defer cancel()
	if err := sb.Supervisor.Shutdown(shutdownCtx); err != nil {
		result = errors.Join(result, err)
	}

	stopSurfaces()
	if err := sb.drain(surfaceErr, surfaces); err != nil && result == nil {
		result = err
	}
	if err := sb.Session.Unpublish(stateDir); err != nil {
		sb.log.Warn("Removing session file failed", zap.Error(err))
	}
	sb.Tracer.Close()
	return result
}

func (sb *Sandbox) drain(ch <-chan error, n int) error {
	var errs []error
	for range n {
		if err := <-ch; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// probeAddr turns a listen address into one a local probe can dial.
func probeAddr(host string, port int) string {
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "127.0.0.1"
	}
	return hostPort(host, port)
}
