// Package errs defines the failure taxonomy shared by every component.
//
// Components return a *ComponentError whose Kind is one of the sentinel
// errors below, so callers can branch with errors.Is without knowing which
// component produced the failure.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrStartupFailure means a component never became ready.
	ErrStartupFailure = errors.New("startup failure")
	// ErrCrashLoop means a component exceeded its restart budget.
	ErrCrashLoop = errors.New("crash loop")
	// ErrDisplayUnavailable means the virtual framebuffer could not be created.
	ErrDisplayUnavailable = errors.New("display unavailable")
	// ErrAuthFailure means a presented secret or key did not verify.
	ErrAuthFailure = errors.New("authentication failed")
	// ErrLeaseConflict means another client holds the automation lease.
	ErrLeaseConflict = errors.New("lease conflict")
	// ErrPortConflict means a listener could not bind. It is a startup failure.
	ErrPortConflict = errors.New("port conflict")

	ErrNotHolder         = errors.New("not the lease holder")
	ErrUnknownComponent  = errors.New("unknown component")
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	ErrShuttingDown      = errors.New("supervisor is shutting down")
)

// ComponentError attaches a taxonomy kind and component name to a cause.
type ComponentError struct {
	Component string
	Kind      error
	Err       error
}

// New builds a ComponentError.
func New(component string, kind, cause error) *ComponentError {
	return &ComponentError{Component: component, Kind: kind, Err: cause}
}

func (e *ComponentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Component, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Component, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *ComponentError) Unwrap() []error {
	out := []error{e.Kind}
	if e.Kind == ErrPortConflict {
		out = append(out, ErrStartupFailure)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the taxonomy name of err, or "" when err is not classified.
func KindOf(err error) string {
	for _, kind := range []struct {
		err  error
		name string
	}{
		{ErrDisplayUnavailable, "DisplayUnavailable"},
		{ErrCrashLoop, "CrashLoop"},
		{ErrPortConflict, "PortConflict"},
		{ErrStartupFailure, "StartupFailure"},
		{ErrAuthFailure, "AuthFailure"},
		{ErrLeaseConflict, "LeaseConflict"},
	} {
		if errors.Is(err, kind.err) {
			return kind.name
		}
	}
	return ""
}
