package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
)

// Options configures an HTTP listener.
type Options struct {
	// Name tags log lines, e.g. "control" or "bridge".
	Name    string
	Addr    string
	Handler http.Handler
	Logger  *logging.Logger

	// Gzip compresses responses. Leave it off for handlers that upgrade
	// connections.
	Gzip              bool
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// HTTP serves a handler until its context is cancelled. Request contexts
// derive from the Run context, so long-lived handlers such as WebSocket
// relays see shutdown too.
type HTTP struct {
	opts Options
	log  *logging.Logger

	mu    sync.Mutex
	addr  net.Addr
	bound chan struct{}
}

// NewHTTP creates a listener. Nothing is bound until Run.
func NewHTTP(opts Options) *HTTP {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Name == "" {
		opts.Name = "http"
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 10 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.Gzip {
		opts.Handler = gzhttp.GzipHandler(opts.Handler)
	}
	return &HTTP{
		opts:  opts,
		log:   opts.Logger.Component(opts.Name),
		bound: make(chan struct{}),
	}
}

// Run binds and serves. A bind failure is a port conflict.
func (s *HTTP) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrPortConflict, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	select {
	case <-s.bound:
	default:
		close(s.bound)
	}
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.opts.Handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          zap.NewStdLog(s.log.Logger),
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	s.log.Info("Listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("Shutdown incomplete", zap.Error(err))
		srv.Close()
	}
	<-serveErr
	s.log.Info("Stopped")
	return nil
}

// Addr returns the bound address once Run is listening.
func (s *HTTP) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Bound is closed once the listener is up.
func (s *HTTP) Bound() <-chan struct{} { return s.bound }

// URL returns the http base URL of the bound listener.
func (s *HTTP) URL() string {
	if a := s.Addr(); a != nil {
		return "http://" + a.String()
	}
	return ""
}
