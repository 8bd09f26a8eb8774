package http

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/browserbox/internal/api/middleware"
	"github.com/GriffinCanCode/browserbox/internal/apikey"
	"github.com/GriffinCanCode/browserbox/internal/domain/session"
	"github.com/GriffinCanCode/browserbox/internal/framebuffer"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/lease"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
	"github.com/GriffinCanCode/browserbox/internal/shared/id"
	"github.com/GriffinCanCode/browserbox/internal/supervisor"
)

// Supervisor is the component table the handlers report on.
type Supervisor interface {
	Records() []supervisor.Record
	Record(name string) (supervisor.Record, error)
	Restart(name string) error
	Recover(name string) error
}

// Viewers exposes the framebuffer's connected viewers.
type Viewers interface {
	Viewers() []framebuffer.ViewerConnection
	RequestInput(vid id.ViewerID) error
	ReleaseInput(vid id.ViewerID) error
}

// Leases is the automation lease.
type Leases interface {
	Acquire(ctx context.Context, clientID string, ttl time.Duration) (lease.Grant, error)
	Renew(clientID string, ttl time.Duration) (lease.Grant, error)
	Release(clientID string) error
	Status() lease.Status
	Policy() string
}

// Keys manages generated API keys.
type Keys interface {
	Generate(expiresIn time.Duration) (string, apikey.APIKey, error)
	Rotate(key string) (string, apikey.APIKey, error)
	Revoke(id string) error
	ListActive() []apikey.APIKey
}

// Deps are the handler dependencies.
type Deps struct {
	Session    *session.Session
	Supervisor Supervisor
	Viewers    Viewers
	Leases     Leases
	Keys       Keys
	// Digest fingerprints the browser profile; optional.
	Digest  func(ctx context.Context) (string, error)
	Version string
	Logger  *logging.Logger
	Now     func() time.Time
}

// Handlers contains all control API handlers
type Handlers struct {
	deps Deps
	log  *logging.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) *Handlers {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &Handlers{deps: deps, log: deps.Logger.Component("control")}
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	body := gin.H{
		"status":  "online",
		"service": "browserbox",
		"version": h.deps.Version,
	}
	if h.deps.Session != nil {
		body["session_id"] = h.deps.Session.ID
	}
	c.JSON(http.StatusOK, body)
}

// Health answers 200 only while every autostart component is up.
func (h *Handlers) Health(c *gin.Context) {
	components := make(map[string]supervisor.State)
	healthy := true
	for _, rec := range h.deps.Supervisor.Records() {
		components[rec.Name] = rec.State
		if rec.Autostart && !rec.State.Up() {
			healthy = false
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"components": components,
	})
}

// ComponentStatus is a Record plus its current uptime.
type ComponentStatus struct {
	supervisor.Record
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// StatusResponse is the full session status surface.
type StatusResponse struct {
	Session    *session.Session  `json:"session,omitempty"`
	Components []ComponentStatus `json:"components"`
	Lease      lease.Status      `json:"lease"`
	Viewers    int               `json:"viewers"`
}

// Status reports every component, the lease and the viewer count.
func (h *Handlers) Status(c *gin.Context) {
	now := h.deps.Now()
	records := h.deps.Supervisor.Records()

	resp := StatusResponse{Components: make([]ComponentStatus, 0, len(records))}
	if h.deps.Session != nil {
		snap := h.deps.Session.Snapshot()
		resp.Session = &snap
	}
	for _, rec := range records {
		resp.Components = append(resp.Components, componentStatus(rec, now))
	}
	if h.deps.Leases != nil {
		resp.Lease = h.deps.Leases.Status()
	}
	if h.deps.Viewers != nil {
		resp.Viewers = len(h.deps.Viewers.Viewers())
	}
	c.JSON(http.StatusOK, resp)
}

// ProcessStatus reports one component.
func (h *Handlers) ProcessStatus(c *gin.Context) {
	rec, err := h.deps.Supervisor.Record(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, componentStatus(rec, h.deps.Now()))
}

func componentStatus(rec supervisor.Record, now time.Time) ComponentStatus {
	return ComponentStatus{Record: rec, UptimeSeconds: rec.Uptime(now).Seconds()}
}

// Session returns the published session metadata. ?digest=true adds a
// fingerprint of the browser profile.
func (h *Handlers) Session(c *gin.Context) {
	if h.deps.Session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}
	body := gin.H{"session": h.deps.Session.Snapshot()}

	if c.Query("digest") == "true" && h.deps.Digest != nil {
		digest, err := h.deps.Digest(c.Request.Context())
		if err != nil {
			h.log.Warn("Profile digest failed", zap.Error(err))
			body["digest_error"] = err.Error()
		} else {
			body["profile_digest"] = digest
		}
	}
	c.JSON(http.StatusOK, body)
}

// ListViewers lists connected framebuffer viewers.
func (h *Handlers) ListViewers(c *gin.Context) {
	viewers := h.deps.Viewers.Viewers()
	c.JSON(http.StatusOK, gin.H{
		"viewers": viewers,
		"count":   len(viewers),
	})
}

// RequestInput gives a viewer input control.
func (h *Handlers) RequestInput(c *gin.Context) {
	vid := id.ViewerID(c.Param("id"))
	if err := h.deps.Viewers.RequestInput(vid); err != nil {
		respondError(c, err)
		return
	}
	h.log.Info("Input granted", zap.String("viewer", vid.String()), zap.String("by", c.GetString(middleware.SubjectKey)))
	c.JSON(http.StatusOK, gin.H{"viewer": vid, "input_allowed": true})
}

// ReleaseInput takes input control away from a viewer.
func (h *Handlers) ReleaseInput(c *gin.Context) {
	vid := id.ViewerID(c.Param("id"))
	if err := h.deps.Viewers.ReleaseInput(vid); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"viewer": vid, "input_allowed": false})
}

// ClientHeader carries the automation client identity when the request has
// no body.
const ClientHeader = "X-Automation-Client"

// LeaseRequest acquires or renews the automation lease. Client may also be
// sent in ClientHeader.
type LeaseRequest struct {
	Client     string `json:"client"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// TTL converts TTLSeconds without overflowing. The lease manager clamps the
// result to its maximum.
func (r LeaseRequest) TTL() time.Duration {
	const maxSeconds = math.MaxInt64 / int64(time.Second)
	if r.TTLSeconds > maxSeconds {
		return time.Duration(maxSeconds) * time.Second
	}
	return time.Duration(r.TTLSeconds) * time.Second
}

// LeaseResponse describes an issued grant.
type LeaseResponse struct {
	LeaseID    id.LeaseID `json:"lease_id"`
	Holder     string     `json:"holder"`
	AcquiredAt time.Time  `json:"acquired_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

func grantResponse(g lease.Grant) LeaseResponse {
	return LeaseResponse{LeaseID: g.ID, Holder: g.Holder, AcquiredAt: g.AcquiredAt, ExpiresAt: g.ExpiresAt}
}

func bindLease(c *gin.Context) (LeaseRequest, bool) {
	var req LeaseRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return req, false
		}
	}
	if req.Client == "" {
		req.Client = c.GetHeader(ClientHeader)
	}
	if req.TTLSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ttl_seconds must not be negative"})
		return req, false
	}
	return req, true
}

// LeaseStatus reports the current lease.
func (h *Handlers) LeaseStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"lease":  h.deps.Leases.Status(),
		"policy": h.deps.Leases.Policy(),
	})
}

// AcquireLease grants the lease or reports the conflict.
func (h *Handlers) AcquireLease(c *gin.Context) {
	req, ok := bindLease(c)
	if !ok {
		return
	}
	g, err := h.deps.Leases.Acquire(c.Request.Context(), req.Client, req.TTL())
	if errors.Is(err, errs.ErrLeaseConflict) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error": err.Error(),
			"kind":  errs.KindOf(err),
			"lease": h.deps.Leases.Status(),
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, grantResponse(g))
}

// RenewLease extends the caller's lease.
func (h *Handlers) RenewLease(c *gin.Context) {
	req, ok := bindLease(c)
	if !ok {
		return
	}
	g, err := h.deps.Leases.Renew(req.Client, req.TTL())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, grantResponse(g))
}

// ReleaseLease ends the caller's lease.
func (h *Handlers) ReleaseLease(c *gin.Context) {
	req, ok := bindLease(c)
	if !ok {
		return
	}
	if err := h.deps.Leases.Release(req.Client); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RestartProcess forces a component restart.
func (h *Handlers) RestartProcess(c *gin.Context) {
	name := c.Param("name")
	if err := h.deps.Supervisor.Restart(name); err != nil {
		respondError(c, err)
		return
	}
	h.log.Info("Restart requested", zap.String("component", name), zap.String("by", c.GetString(middleware.SubjectKey)))
	c.JSON(http.StatusAccepted, gin.H{"component": name, "action": "restart"})
}

// RecoverProcess re-arms a failed component.
func (h *Handlers) RecoverProcess(c *gin.Context) {
	name := c.Param("name")
	if err := h.deps.Supervisor.Recover(name); err != nil {
		respondError(c, err)
		return
	}
	h.log.Info("Recovery requested", zap.String("component", name), zap.String("by", c.GetString(middleware.SubjectKey)))
	c.JSON(http.StatusAccepted, gin.H{"component": name, "action": "recover"})
}

// ListKeys lists active API keys without secrets.
func (h *Handlers) ListKeys(c *gin.Context) {
	keys := h.deps.Keys.ListActive()
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// KeyResponse carries a freshly issued key. The key is shown only once.
type KeyResponse struct {
	Key  string        `json:"key"`
	Info apikey.APIKey `json:"info"`
}

// CreateKey issues a new API key.
func (h *Handlers) CreateKey(c *gin.Context) {
	var req struct {
		ExpiresInSeconds int `json:"expires_in_seconds"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
	}
	key, info, err := h.deps.Keys.Generate(time.Duration(req.ExpiresInSeconds) * time.Second)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, KeyResponse{Key: key, Info: info})
}

// RotateKey replaces a key with a new one.
func (h *Handlers) RotateKey(c *gin.Context) {
	var req struct {
		Key string `json:"key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	key, info, err := h.deps.Keys.Rotate(req.Key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, KeyResponse{Key: key, Info: info})
}

// RevokeKey deactivates a key.
func (h *Handlers) RevokeKey(c *gin.Context) {
	if err := h.deps.Keys.Revoke(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
