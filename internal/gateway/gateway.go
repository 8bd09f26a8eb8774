package gateway

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/lease"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
	"github.com/GriffinCanCode/browserbox/internal/shared/id"
)

// LeaseHeader carries the lease ID returned on acquisition. The "lease"
// query parameter is accepted too, for tools that cannot set headers on
// WebSocket requests.
const LeaseHeader = "X-Automation-Lease"

const leaseParam = "lease"

const grantKey = "lease.grant"

// Options configures a Gateway.
type Options struct {
	// Upstream is the browser's debug address (host:port).
	Upstream string
	Leases   *lease.Manager
	Timeout  time.Duration
	Logger   *logging.Logger
}

// OptionsFrom derives options from configuration.
func OptionsFrom(cfg config.BrowserConfig) Options {
	return Options{Upstream: net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.DebugPort))}
}

// Gateway is the lease-guarded debug endpoint proxy.
type Gateway struct {
	opts     Options
	log      *logging.Logger
	http     *resty.Client
	dialer   websocket.Dialer
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*websocket.Conn]string
}

// New creates a gateway.
func New(opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Gateway{
		opts: opts,
		log:  opts.Logger.Component("gateway"),
		http: resty.New().
			SetBaseURL("http://"+opts.Upstream).
			SetTimeout(opts.Timeout).
			SetHeader("User-Agent", "browserbox-gateway/1.0"),
		dialer: websocket.Dialer{HandshakeTimeout: opts.Timeout},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[*websocket.Conn]string),
	}
}

// Handler returns the gin engine serving the gateway routes.
func (g *Gateway) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	guarded := router.Group("/", g.requireLease)
	guarded.Any("/json", g.proxyJSON)
	guarded.Any("/json/*path", g.proxyJSON)
	guarded.GET("/devtools/*path", g.proxyDevTools)
	return router
}

// Sessions returns the number of open debugger sockets.
func (g *Gateway) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

func leaseID(c *gin.Context) id.LeaseID {
	if v := c.GetHeader(LeaseHeader); v != "" {
		return id.LeaseID(v)
	}
	return id.LeaseID(c.Query(leaseParam))
}

// requireLease admits only requests presenting the current lease ID. With no
// lease at all the endpoint is Locked; otherwise it is a Conflict. The holder
// is not disclosed.
func (g *Gateway) requireLease(c *gin.Context) {
	if g.opts.Leases == nil {
		c.AbortWithStatusJSON(http.StatusLocked, gin.H{"error": "automation disabled"})
		return
	}

	if grant, ok := g.opts.Leases.Lookup(leaseID(c)); ok {
		c.Set(grantKey, grant)
		c.Next()
		return
	}

	status := g.opts.Leases.Status()
	if !status.Held {
		c.AbortWithStatusJSON(http.StatusLocked, gin.H{
			"error": "acquire the automation lease first",
			"kind":  errs.KindOf(errs.ErrLeaseConflict),
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusConflict, gin.H{
		"error":      errs.ErrLeaseConflict.Error(),
		"kind":       errs.KindOf(errs.ErrLeaseConflict),
		"expires_at": status.ExpiresAt,
	})
}

// proxyJSON forwards discovery requests and rewrites debugger URLs.
func (g *Gateway) proxyJSON(c *gin.Context) {
	query := c.Request.URL.Query()
	query.Del(leaseParam)

	resp, err := g.http.R().
		SetContext(c.Request.Context()).
		SetQueryParamsFromValues(query).
		Execute(c.Request.Method, c.Request.URL.Path)
	if err != nil {
		g.log.Warn("Debug endpoint unavailable", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "browser debug endpoint unavailable"})
		return
	}

	body := resp.Body()
	if strings.Contains(resp.Header().Get("Content-Type"), "json") || looksJSON(body) {
		body, err = rewriteHosts(body, g.opts.Upstream, c.Request.Host)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "invalid discovery document"})
			return
		}
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json; charset=UTF-8"
	}
	c.Data(resp.StatusCode(), contentType, body)
}

func looksJSON(b []byte) bool {
	s := strings.TrimSpace(string(b))
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// proxyDevTools relays a debugger WebSocket message by message.
func (g *Gateway) proxyDevTools(c *gin.Context) {
	grant := c.MustGet(grantKey).(lease.Grant)

	target := "ws://" + g.opts.Upstream + c.Request.URL.Path
	upstream, resp, err := g.dialer.DialContext(c.Request.Context(), target, nil)
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			status = http.StatusNotFound
		}
		g.log.Warn("Debugger target unavailable", zap.String("target", target), zap.Error(err))
		c.JSON(status, gin.H{"error": "debugger target unavailable"})
		return
	}

	downstream, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		upstream.Close()
		return
	}

	g.track(downstream, grant.Holder)
	defer g.untrack(downstream)

	log := g.log.With(zap.String("holder", grant.Holder), zap.String("target", c.Request.URL.Path))
	log.Info("Debugger session opened")

	var once sync.Once
	closeBoth := func(reason string) {
		once.Do(func() {
			deadline := time.Now().Add(time.Second)
			_ = downstream.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
			downstream.Close()
			upstream.Close()
		})
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-grant.Done():
			log.Info("Lease ended, closing debugger session")
			closeBoth("lease ended")
		case <-c.Request.Context().Done():
			closeBoth("shutting down")
		case <-done:
		}
	}()

	errc := make(chan error, 2)
	go func() { errc <- pump(upstream, downstream) }()
	go func() { errc <- pump(downstream, upstream) }()

	err = <-errc
	close(done)
	downstream.Close()
	upstream.Close()
	<-errc

	if err != nil && !isClosed(err) {
		log.Debug("Debugger session ended", zap.Error(err))
	}
	log.Info("Debugger session closed")
}

// pump copies messages from src to dst until either fails.
func pump(dst, src *websocket.Conn) error {
	for {
		kind, data, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(kind, data); err != nil {
			return err
		}
	}
}

func isClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}

func (g *Gateway) track(conn *websocket.Conn, holder string) {
	g.mu.Lock()
	g.sessions[conn] = holder
	g.mu.Unlock()
}

func (g *Gateway) untrack(conn *websocket.Conn) {
	g.mu.Lock()
	delete(g.sessions, conn)
	g.mu.Unlock()
}
