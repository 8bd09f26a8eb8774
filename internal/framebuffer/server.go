package framebuffer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
	"github.com/GriffinCanCode/browserbox/internal/shared/id"
)

// ErrUnknownViewer means no connected viewer has the given ID.
var ErrUnknownViewer = errors.New("unknown viewer")

// ViewerConnection describes one connected viewer.
type ViewerConnection struct {
	ID            id.ViewerID `json:"id"`
	RemoteAddr    string      `json:"remote_addr"`
	Authenticated bool        `json:"authenticated"`
	InputAllowed  bool        `json:"input_allowed"`
	ConnectedAt   time.Time   `json:"connected_at"`
}

// Options configures a Server.
type Options struct {
	// Addr is the native viewer listen address.
	Addr string
	// CaptureAddr is the loopback address of the display capture server.
	CaptureAddr string
	// Secret is the shared viewer secret. It is required.
	Secret     string
	MaxViewers int
	AuthRate   float64
	AuthBurst  int

	HandshakeTimeout time.Duration
	Arbiter          *Arbiter
	Logger           *logging.Logger
	Metrics          *monitoring.Metrics
}

// OptionsFrom derives options from configuration.
func OptionsFrom(cfg config.FramebufferConfig) Options {
	return Options{
		Addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		CaptureAddr: net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.CapturePort)),
		Secret:      cfg.Secret,
		MaxViewers:  cfg.MaxViewers,
		AuthRate:    cfg.AuthRate,
		AuthBurst:   cfg.AuthBurst,
	}
}

// ErrNoSecret means the server was started without a viewer secret.
var ErrNoSecret = errors.New("no viewer secret configured")

type viewer struct {
	info ViewerConnection
}

// Server fronts the capture server with authentication and input
// arbitration. It runs as a supervised service.
type Server struct {
	opts    Options
	log     *logging.Logger
	arbiter *Arbiter
	limiter *resilience.KeyedLimiter

	mu      sync.Mutex
	viewers map[id.ViewerID]*viewer
	addr    net.Addr
	bound   chan struct{}
}

// NewServer creates a framebuffer server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Arbiter == nil {
		opts.Arbiter = NewArbiter(nil, false)
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.AuthRate <= 0 {
		opts.AuthRate = 1
	}
	if opts.AuthBurst <= 0 {
		opts.AuthBurst = 5
	}
	return &Server{
		opts:    opts,
		log:     opts.Logger.Component("framebuffer"),
		arbiter: opts.Arbiter,
		limiter: resilience.NewKeyedLimiter(opts.AuthRate, opts.AuthBurst),
		viewers: make(map[id.ViewerID]*viewer),
		bound:   make(chan struct{}),
	}
}

// Run listens until ctx is cancelled, then disconnects every viewer.
func (s *Server) Run(ctx context.Context) error {
	if s.opts.Secret == "" {
		return errs.New("framebuffer", errs.ErrStartupFailure, ErrNoSecret)
	}
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrPortConflict, err)
	}
	if s.opts.MaxViewers > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxViewers)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	select {
	case <-s.bound:
	default:
		close(s.bound)
	}
	s.mu.Unlock()

	s.log.Info("Framebuffer server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("capture", s.opts.CaptureAddr))

	var wg sync.WaitGroup
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			ln.Close()
			wg.Wait()
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serve(ctx, conn)
		}()
	}

	wg.Wait()
	s.log.Info("Framebuffer server stopped")
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

// Arbiter returns the input arbiter.
func (s *Server) Arbiter() *Arbiter { return s.arbiter }

// Viewers lists connected viewers by connection time.
func (s *Server) Viewers() []ViewerConnection {
	s.mu.Lock()
	out := make([]ViewerConnection, 0, len(s.viewers))
	for _, v := range s.viewers {
		out = append(out, v.info)
	}
	s.mu.Unlock()

	for i := range out {
		out[i].InputAllowed = s.arbiter.Holds(out[i].ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Viewer returns one viewer.
func (s *Server) Viewer(vid id.ViewerID) (ViewerConnection, error) {
	s.mu.Lock()
	v, ok := s.viewers[vid]
	s.mu.Unlock()
	if !ok {
		return ViewerConnection{}, fmt.Errorf("%w: %s", ErrUnknownViewer, vid)
	}
	info := v.info
	info.InputAllowed = s.arbiter.Holds(vid)
	return info, nil
}

// RequestInput grants input control to a connected viewer.
func (s *Server) RequestInput(vid id.ViewerID) error {
	if _, err := s.Viewer(vid); err != nil {
		return err
	}
	return s.arbiter.Request(vid)
}

// ReleaseInput takes input control away from a connected viewer.
func (s *Server) ReleaseInput(vid id.ViewerID) error {
	if _, err := s.Viewer(vid); err != nil {
		return err
	}
	if !s.arbiter.Release(vid) {
		return fmt.Errorf("viewer %s does not hold input", vid)
	}
	return nil
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	v := &viewer{
		info: ViewerConnection{
			ID:          id.NewViewerID(),
			RemoteAddr:  conn.RemoteAddr().String(),
			ConnectedAt: time.Now(),
		},
	}
	log := s.log.With(zap.String("viewer", v.info.ID.String()), zap.String("remote", v.info.RemoteAddr))

	_ = conn.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	ver, err := s.authenticate(conn, host)
	if err != nil {
		if errors.Is(err, errs.ErrAuthFailure) {
			s.opts.Metrics.IncAuthFailures()
			log.Warn("Viewer rejected", zap.Error(err))
		} else {
			log.Debug("Handshake aborted", zap.Error(err))
		}
		return
	}
	v.info.Authenticated = true

	// ClientInit; the shared flag is ignored, viewers always share.
	var shared [1]byte
	if _, err := io.ReadFull(conn, shared[:]); err != nil {
		return
	}

	var d net.Dialer
	upstream, err := d.DialContext(ctx, "tcp", s.opts.CaptureAddr)
	if err != nil {
		log.Warn("Capture server unreachable", zap.Error(err))
		return
	}
	defer upstream.Close()
	stopUpstream := context.AfterFunc(ctx, func() { upstream.Close() })
	defer stopUpstream()
	_ = upstream.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout))

	si, err := dialHandshake(upstream)
	if err != nil {
		log.Warn("Capture handshake failed", zap.Error(err), zap.Int("version", int(ver)))
		return
	}
	if _, err := conn.Write(si.raw); err != nil {
		return
	}
	_ = conn.SetDeadline(time.Time{})
	_ = upstream.SetDeadline(time.Time{})

	s.register(v)
	defer s.unregister(v)
	log.Info("Viewer connected",
		zap.Uint16("width", si.width),
		zap.Uint16("height", si.height))

	s.relay(v, conn, upstream, log)
	log.Info("Viewer disconnected")
}

// authenticate runs the server side of the handshake up to SecurityResult.
func (s *Server) authenticate(conn net.Conn, host string) (version, error) {
	if _, err := conn.Write(v38.banner()); err != nil {
		return 0, err
	}
	ver, err := readVersion(conn)
	if err != nil {
		return 0, err
	}

	secType := securityVNCAuth

	if !s.limiter.Allow(host) {
		reason := "too many authentication attempts"
		if ver == v33 {
			binary.Write(conn, binary.BigEndian, uint32(securityInvalid))
			binary.Write(conn, binary.BigEndian, uint32(len(reason)))
			conn.Write([]byte(reason))
		} else {
			conn.Write([]byte{0})
			binary.Write(conn, binary.BigEndian, uint32(len(reason)))
			conn.Write([]byte(reason))
		}
		return ver, fmt.Errorf("%w: rate limited", errs.ErrAuthFailure)
	}

	if ver == v33 {
		if err := binary.Write(conn, binary.BigEndian, uint32(secType)); err != nil {
			return ver, err
		}
	} else {
		if _, err := conn.Write([]byte{1, secType}); err != nil {
			return ver, err
		}
		var chosen [1]byte
		if _, err := io.ReadFull(conn, chosen[:]); err != nil {
			return ver, err
		}
		if chosen[0] != secType {
			_ = writeFailure(conn, ver, "unsupported security type")
			return ver, fmt.Errorf("viewer chose security type %d", chosen[0])
		}
	}

	challenge, err := newChallenge()
	if err != nil {
		return ver, err
	}
	if _, err := conn.Write(challenge); err != nil {
		return ver, err
	}
	response := make([]byte, challengeSize)
	if _, err := io.ReadFull(conn, response); err != nil {
		return ver, err
	}
	if !verifyResponse(s.opts.Secret, challenge, response) {
		_ = writeFailure(conn, ver, "authentication failed")
		return ver, errs.ErrAuthFailure
	}
	return ver, binary.Write(conn, binary.BigEndian, resultOK)
}

// relay copies capture output to the viewer untouched and filters viewer
// input through the arbiter. Either side closing ends both.
func (s *Server) relay(v *viewer, conn, upstream net.Conn, log *zap.Logger) {
	done := make(chan struct{}, 2)

	go func() {
		_, _ = io.Copy(conn, upstream)
		done <- struct{}{}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		if err := s.forwardInput(v, conn, upstream); err != nil {
			log.Debug("Viewer stream ended", zap.Error(err))
		}
	}()

	<-done
	conn.Close()
	upstream.Close()
	<-done
}

// forwardInput reads viewer messages until the stream ends. A panic while
// handling one viewer ends only that viewer.
func (s *Server) forwardInput(v *viewer, conn io.Reader, upstream io.Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("viewer %s: panic: %v", v.info.ID, r)
			s.log.Error("Viewer handler panicked", zap.String("viewer_id", v.info.ID.String()), zap.Any("panic", r))
		}
	}()

	for {
		msg, err := readMessage(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if msg.isInput() {
			if ok, reason := s.arbiter.Allow(v.info.ID); !ok {
				s.opts.Metrics.IncInputDropped(reason)
				continue
			}
		}
		if _, err := upstream.Write(msg.raw); err != nil {
			return nil
		}
	}
}

func (s *Server) register(v *viewer) {
	s.mu.Lock()
	s.viewers[v.info.ID] = v
	n := len(s.viewers)
	s.mu.Unlock()
	s.opts.Metrics.SetViewers(n)
}

func (s *Server) unregister(v *viewer) {
	s.arbiter.Forget(v.info.ID)
	s.mu.Lock()
	delete(s.viewers, v.info.ID)
	n := len(s.viewers)
	s.mu.Unlock()
	s.opts.Metrics.SetViewers(n)
}
