package framebuffer

import (
	"errors"
	"sync"

	"github.com/GriffinCanCode/browserbox/internal/shared/id"
)

// Reasons reported when viewer input is dropped.
const (
	DropLease   = "lease"
	DropControl = "not_controller"
)

// ErrInputHeld means another viewer controls input.
var ErrInputHeld = errors.New("input is held by another viewer")

// Arbiter decides which single viewer may drive the browser. The first
// viewer to ask, explicitly or by sending input, keeps control until it
// releases or disconnects.
type Arbiter struct {
	// leaseActive reports whether automation currently owns the browser.
	leaseActive  func() bool
	blockOnLease bool

	mu         sync.Mutex
	controller id.ViewerID
}

// NewArbiter creates an arbiter. When blockOnLease is set, all viewer input
// is dropped while leaseActive reports true.
func NewArbiter(leaseActive func() bool, blockOnLease bool) *Arbiter {
	if leaseActive == nil {
		leaseActive = func() bool { return false }
	}
	return &Arbiter{leaseActive: leaseActive, blockOnLease: blockOnLease}
}

// Request grants control to v if nobody holds it.
func (a *Arbiter) Request(v id.ViewerID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.controller != "" && a.controller != v {
		return ErrInputHeld
	}
	a.controller = v
	return nil
}

// Release gives up control. It is a no-op unless v holds it.
func (a *Arbiter) Release(v id.ViewerID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.controller != v {
		return false
	}
	a.controller = ""
	return true
}

// Forget is Release for a disconnecting viewer.
func (a *Arbiter) Forget(v id.ViewerID) { a.Release(v) }

// Revoke takes control away from whoever holds it.
func (a *Arbiter) Revoke() id.ViewerID {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.controller
	a.controller = ""
	return prev
}

// Controller returns the current controller, if any.
func (a *Arbiter) Controller() (id.ViewerID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controller, a.controller != ""
}

// Allow decides whether an input message from v is forwarded. The first
// input from any viewer while nobody holds control claims it.
func (a *Arbiter) Allow(v id.ViewerID) (bool, string) {
	if a.blockOnLease && a.leaseActive() {
		return false, DropLease
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.controller == "" {
		a.controller = v
	}
	if a.controller != v {
		return false, DropControl
	}
	return true, ""
}

// Holds reports whether v controls input.
func (a *Arbiter) Holds(v id.ViewerID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controller == v
}
