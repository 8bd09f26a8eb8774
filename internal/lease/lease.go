package lease

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
	"github.com/GriffinCanCode/browserbox/internal/shared/id"
	"github.com/GriffinCanCode/browserbox/internal/shared/utils"
)

// ErrInvalidClient means the client identity was empty or malformed.
var ErrInvalidClient = errors.New("client id required")

// Grant is a snapshot of one issued lease. Done is shared by every snapshot
// of the same lease.
type Grant struct {
	ID         id.LeaseID
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time

	done  chan struct{}
	timer *time.Timer
	ended bool
}

// Done is closed when the grant is released or expires.
func (g Grant) Done() <-chan struct{} { return g.done }

// Status is a point-in-time view of the lease. The lease ID is never
// serialized; only the acquirer learns it.
type Status struct {
	Held       bool          `json:"held"`
	LeaseID    id.LeaseID    `json:"-"`
	Holder     string        `json:"holder,omitempty"`
	AcquiredAt time.Time     `json:"acquired_at,omitempty"`
	ExpiresAt  time.Time     `json:"expires_at,omitempty"`
	Remaining  time.Duration `json:"remaining"`
}

// Options configures a Manager.
type Options struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	Policy     string
	Now        func() time.Time
	Logger     *logging.Logger
	Metrics    *monitoring.Metrics
}

// OptionsFrom derives options from configuration.
func OptionsFrom(cfg config.AutomationConfig) Options {
	return Options{
		DefaultTTL: cfg.DefaultTTL,
		MaxTTL:     cfg.MaxTTL,
		Policy:     cfg.Policy,
	}
}

// Manager owns the singleton lease.
type Manager struct {
	opts Options
	log  *logging.Logger

	mu      sync.Mutex
	current *Grant
	closed  bool
}

// NewManager creates a lease manager.
func NewManager(opts Options) *Manager {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.MaxTTL < opts.DefaultTTL {
		opts.MaxTTL = opts.DefaultTTL
	}
	if opts.Policy == "" {
		opts.Policy = config.LeasePolicyFailFast
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Manager{opts: opts, log: opts.Logger.Component("lease")}
}

// Policy returns the acquisition policy.
func (m *Manager) Policy() string { return m.opts.Policy }

// Acquire grants the lease to clientID for ttl (0 means the default; values
// above the maximum are clamped). It succeeds only when no valid lease
// exists, including for the current holder, which extends with Renew.
func (m *Manager) Acquire(ctx context.Context, clientID string, ttl time.Duration) (Grant, error) {
	if err := utils.ValidateClientID(clientID); err != nil {
		return Grant{}, fmt.Errorf("%w: %v", ErrInvalidClient, err)
	}
	ttl = m.clamp(ttl)

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Grant{}, errs.ErrShuttingDown
		}
		m.expireLocked()

		if g := m.current; g != nil {
			// The holder extends with Renew and never waits on its own lease.
			if g.Holder == clientID || m.opts.Policy != config.LeasePolicyQueue {
				holder, until := g.Holder, g.ExpiresAt
				m.mu.Unlock()
				m.opts.Metrics.RecordLeaseEvent("conflict")
				return Grant{}, fmt.Errorf("%w: held by %s until %s", errs.ErrLeaseConflict, holder, until.Format(time.RFC3339))
			}

			done := g.done
			m.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				m.opts.Metrics.RecordLeaseEvent("conflict")
				return Grant{}, fmt.Errorf("%w: %w", errs.ErrLeaseConflict, ctx.Err())
			}
		}

		now := m.opts.Now()
		g := &Grant{
			ID:         id.NewLeaseID(),
			Holder:     clientID,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
			done:       make(chan struct{}),
		}
		g.timer = time.AfterFunc(ttl, func() { m.expire(g) })
		m.current = g
		m.mu.Unlock()

		m.log.Info("Lease acquired", zap.String("holder", clientID), zap.String("lease_id", g.ID.String()), zap.Duration("ttl", ttl))
		m.opts.Metrics.RecordLeaseEvent("acquired")
		return *g, nil
	}
}

// Renew pushes the holder's deadline to now+ttl.
func (m *Manager) Renew(clientID string, ttl time.Duration) (Grant, error) {
	ttl = m.clamp(ttl)

	m.mu.Lock()
	m.expireLocked()
	g := m.current
	if g == nil || g.Holder != clientID {
		m.mu.Unlock()
		return Grant{}, errs.ErrNotHolder
	}
	m.extendLocked(g, ttl)
	m.mu.Unlock()

	m.opts.Metrics.RecordLeaseEvent("renewed")
	return *g, nil
}

// Release ends the lease. Only the holder may release it.
func (m *Manager) Release(clientID string) error {
	m.mu.Lock()
	m.expireLocked()
	g := m.current
	if g == nil || g.Holder != clientID {
		m.mu.Unlock()
		return errs.ErrNotHolder
	}
	m.endLocked(g)
	m.mu.Unlock()

	m.log.Info("Lease released", zap.String("holder", clientID))
	m.opts.Metrics.RecordLeaseEvent("released")
	return nil
}

// Revoke ends any current lease regardless of holder. It reports whether a
// lease was ended.
func (m *Manager) Revoke() bool {
	m.mu.Lock()
	g := m.current
	if g != nil {
		m.endLocked(g)
	}
	m.mu.Unlock()

	if g != nil {
		m.log.Warn("Lease revoked", zap.String("holder", g.Holder))
		m.opts.Metrics.RecordLeaseEvent("revoked")
	}
	return g != nil
}

// Holds reports whether clientID holds a valid lease.
func (m *Manager) Holds(clientID string) (Grant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
	if m.current != nil && m.current.Holder == clientID {
		return *m.current, true
	}
	return Grant{}, false
}

// Lookup returns the current grant if its ID is leaseID. The ID is only
// handed to the acquirer, so it serves as the holder's credential.
func (m *Manager) Lookup(leaseID id.LeaseID) (Grant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
	if leaseID == "" || m.current == nil {
		return Grant{}, false
	}
	if subtle.ConstantTimeCompare([]byte(m.current.ID), []byte(leaseID)) != 1 {
		return Grant{}, false
	}
	return *m.current, true
}

// Active reports whether any valid lease exists.
func (m *Manager) Active() bool {
	return m.Status().Held
}

// Status returns the current lease. Remaining is never negative.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()

	g := m.current
	if g == nil {
		return Status{}
	}
	remaining := g.ExpiresAt.Sub(m.opts.Now())
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Held:       true,
		LeaseID:    g.ID,
		Holder:     g.Holder,
		AcquiredAt: g.AcquiredAt,
		ExpiresAt:  g.ExpiresAt,
		Remaining:  remaining,
	}
}

// Close ends any lease and refuses further acquisitions.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.current != nil {
		m.endLocked(m.current)
	}
	m.mu.Unlock()
}

func (m *Manager) clamp(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return m.opts.DefaultTTL
	}
	if ttl > m.opts.MaxTTL {
		return m.opts.MaxTTL
	}
	return ttl
}

func (m *Manager) extendLocked(g *Grant, ttl time.Duration) {
	g.ExpiresAt = m.opts.Now().Add(ttl)
	g.timer.Reset(ttl)
}

// expireLocked ends the current grant if its deadline has passed.
func (m *Manager) expireLocked() {
	if g := m.current; g != nil && !m.opts.Now().Before(g.ExpiresAt) {
		m.endLocked(g)
		m.log.Info("Lease expired", zap.String("holder", g.Holder))
		m.opts.Metrics.RecordLeaseEvent("expired")
	}
}

// expire runs from the grant's timer.
func (m *Manager) expire(g *Grant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != g || g.ended {
		return
	}
	m.endLocked(g)
	m.log.Info("Lease expired", zap.String("holder", g.Holder))
	m.opts.Metrics.RecordLeaseEvent("expired")
}

func (m *Manager) endLocked(g *Grant) {
	if g.ended {
		return
	}
	g.ended = true
	g.timer.Stop()
	close(g.done)
	if m.current == g {
		m.current = nil
	}
}
