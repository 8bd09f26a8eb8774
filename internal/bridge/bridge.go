package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/resilience"
)

// Subprotocol is the WebSocket subprotocol browser viewers negotiate.
const Subprotocol = "binary"

const bufferSize = 32 << 10

// Options configures a Bridge.
type Options struct {
	// Path is the WebSocket endpoint, e.g. "/websockify".
	Path string
	// Upstream is the framebuffer server address.
	Upstream    string
	DialTimeout time.Duration
	// CheckOrigin defaults to accepting every origin; viewers are
	// authenticated by the framebuffer secret, not by origin.
	CheckOrigin func(r *http.Request) bool
	Breaker     *resilience.Breaker
	Logger      *logging.Logger
	Metrics     *monitoring.Metrics
}

// OptionsFrom derives options from configuration.
func OptionsFrom(cfg config.BridgeConfig, fb config.FramebufferConfig) Options {
	return Options{
		Path:     cfg.Path,
		Upstream: net.JoinHostPort("127.0.0.1", strconv.Itoa(fb.Port)),
	}
}

// Bridge is the WebSocket to TCP relay.
type Bridge struct {
	opts     Options
	log      *logging.Logger
	upgrader websocket.Upgrader
	breaker  *resilience.Breaker
	active   atomic.Int64
}

// New creates a bridge.
func New(opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Path == "" {
		opts.Path = "/websockify"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}
	log := opts.Logger.Component("bridge")
	if opts.Breaker == nil {
		opts.Breaker = resilience.New("bridge-upstream", resilience.Settings{
			Timeout: 5 * time.Second,
			ReadyToTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to resilience.State) {
				log.Warn("Upstream breaker changed state",
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
	return &Bridge{
		opts:    opts,
		log:     log,
		breaker: opts.Breaker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  bufferSize,
			WriteBufferSize: bufferSize,
			Subprotocols:    []string{Subprotocol},
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

// Handler returns the gin engine serving the bridge endpoint.
func (b *Bridge) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET(b.opts.Path, b.HandleConnection)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "active": b.Active()})
	})
	return router
}

// Active returns the number of open relays.
func (b *Bridge) Active() int { return int(b.active.Load()) }

// HandleConnection dials the framebuffer server, then upgrades and relays.
// The dial happens first so a dead upstream is an HTTP error, not an
// immediately closed socket.
func (b *Bridge) HandleConnection(c *gin.Context) {
	ctx := c.Request.Context()

	var upstream net.Conn
	err := b.breaker.Do(func() error {
		d := net.Dialer{Timeout: b.opts.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", b.opts.Upstream)
		upstream = conn
		return err
	})
	if err != nil {
		b.log.Warn("Upstream unavailable", zap.String("upstream", b.opts.Upstream), zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, resilience.ErrCircuitOpen) {
			status = http.StatusServiceUnavailable
		}
		c.AbortWithStatusJSON(status, gin.H{"error": "framebuffer unavailable"})
		return
	}

	ws, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader already wrote the HTTP error.
		upstream.Close()
		b.log.Debug("Upgrade failed", zap.Error(err))
		return
	}

	b.active.Add(1)
	b.opts.Metrics.BridgeOpened()
	defer func() {
		b.active.Add(-1)
		b.opts.Metrics.BridgeClosed()
	}()

	log := b.log.With(zap.String("remote", c.Request.RemoteAddr))
	log.Info("Viewer bridged")
	b.relay(ctx, ws, upstream, log)
	log.Info("Viewer unbridged")
}

func (b *Bridge) relay(ctx context.Context, ws *websocket.Conn, upstream net.Conn, log *zap.Logger) {
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			ws.Close()
			upstream.Close()
		})
	}
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer closeBoth()
		for {
			kind, r, err := ws.NextReader()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
					log.Debug("Viewer read ended", zap.Error(err))
				}
				return
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			n, err := io.Copy(upstream, r)
			b.opts.Metrics.AddBridgeBytes("upstream", n)
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		defer closeBoth()
		buf := make([]byte, bufferSize)
		for {
			n, err := upstream.Read(buf)
			if n > 0 {
				if werr := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
				b.opts.Metrics.AddBridgeBytes("downstream", int64(n))
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "upstream closed"),
						time.Now().Add(time.Second))
				}
				return
			}
		}
	}()

	wg.Wait()
}
