package http

import (
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/browserbox/internal/api/middleware"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/tracing"
)

// RouterOptions configures the control router.
type RouterOptions struct {
	Auth      middleware.AuthConfig
	CORS      middleware.CORSConfig
	RateLimit *middleware.RateLimitConfig
	Tracer    *tracing.Tracer
	// Metrics is always recorded into; ExposeMetrics mounts /metrics.
	Metrics       *monitoring.Metrics
	ExposeMetrics bool
}

// NewRouter registers the control API. Read-only routes are open; anything
// that changes state requires an API key.
func NewRouter(h *Handlers, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Tracer != nil {
		router.Use(tracing.HTTPMiddleware(opts.Tracer))
	}
	router.Use(monitoring.Middleware(opts.Metrics))
	router.Use(middleware.CORS(opts.CORS))
	if opts.RateLimit != nil {
		router.Use(middleware.RateLimit(*opts.RateLimit))
	}

	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/status", h.Status)
	router.GET("/status/processes/:name", h.ProcessStatus)
	router.GET("/session", h.Session)
	router.GET("/viewers", h.ListViewers)
	router.GET("/lease", h.LeaseStatus)
	if opts.ExposeMetrics && opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	protected := router.Group("/", middleware.APIKey(opts.Auth))

	// Viewer input
	protected.POST("/viewers/:id/input", h.RequestInput)
	protected.DELETE("/viewers/:id/input", h.ReleaseInput)

	// Automation lease
	protected.POST("/lease", h.AcquireLease)
	protected.PUT("/lease", h.RenewLease)
	protected.DELETE("/lease", h.ReleaseLease)

	// Component control
	protected.POST("/processes/:name/restart", h.RestartProcess)
	protected.POST("/processes/:name/recover", h.RecoverProcess)

	// API keys
	protected.GET("/keys", h.ListKeys)
	protected.POST("/keys", h.CreateKey)
	protected.POST("/keys/rotate", h.RotateKey)
	protected.DELETE("/keys/:id", h.RevokeKey)

	return router
}
