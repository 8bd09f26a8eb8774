package supervisor

import (
	"context"
	"fmt"
	"net"
	"time"
)

// ProbeKind selects how readiness or health is checked.
type ProbeKind string

const (
	ProbeNone ProbeKind = ""
	ProbeTCP  ProbeKind = "tcp"
	ProbeUnix ProbeKind = "unix"
)

// Probe is a connect-and-close check against a listening endpoint.
type Probe struct {
	Kind    ProbeKind `yaml:"kind,omitempty" toml:"kind,omitempty" json:"kind,omitempty"`
	Address string    `yaml:"address,omitempty" toml:"address,omitempty" json:"address,omitempty"`
	Timeout Duration  `yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Enabled reports whether the probe checks anything beyond liveness.
func (p Probe) Enabled() bool {
	return p.Kind == ProbeTCP || p.Kind == ProbeUnix
}

func (p Probe) validate() error {
	switch p.Kind {
	case ProbeNone, "none":
		return nil
	case ProbeTCP, ProbeUnix:
		if p.Address == "" {
			return fmt.Errorf("%s probe requires an address", p.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown probe kind %q", p.Kind)
	}
}

// Check dials the endpoint once and closes the connection.
func (p Probe) Check(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}

	timeout := p.Timeout.Std()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, string(p.Kind), p.Address)
	if err != nil {
		return fmt.Errorf("%s probe %s: %w", p.Kind, p.Address, err)
	}
	return conn.Close()
}

// WaitReady polls Check until it succeeds, the probe timeout elapses, or
// exited fires. A disabled probe is ready immediately.
func (p Probe) WaitReady(ctx context.Context, interval time.Duration, exited <-chan struct{}) error {
	if !p.Enabled() {
		return nil
	}

	timeout := p.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last error
	for {
		attempt := p
		attempt.Timeout = Duration(interval)
		if last = attempt.Check(deadline); last == nil {
			return nil
		}
		select {
		case <-ticker.C:
		case <-exited:
			return fmt.Errorf("exited before ready: %w", last)
		case <-deadline.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("not ready within %s: %w", timeout, last)
		}
	}
}
