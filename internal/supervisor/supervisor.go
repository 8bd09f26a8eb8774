package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/browserbox/internal/service"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
)

// ErrInvalidState means the requested operation does not apply to the
// component's current state.
var ErrInvalidState = errors.New("invalid component state")

// Options configures a Supervisor.
type Options struct {
	Table    *Table
	Services *service.Registry[service.Service]
	Hooks    *service.Registry[service.Hook]
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics

	HealthInterval time.Duration
	ShutdownGrace  time.Duration
	// ReadyPoll is the readiness probe retry interval.
	ReadyPoll time.Duration
	// CriticalComponent names the component whose permanent failure is
	// fatal to the whole session.
	CriticalComponent string
}

type request int

const (
	requestRestart request = iota
	requestUnhealthy
)

type exitReason int

const (
	reasonExited exitReason = iota
	reasonShutdown
	reasonOperator
	reasonUnhealthy
)

type component struct {
	desc Descriptor
	log  *logging.Logger

	// guarded by Supervisor.mu
	rec     Record
	inst    instance
	lastErr error

	ctx     context.Context
	cancel  context.CancelFunc
	kick    chan request
	recover chan struct{}
	done    chan struct{}
}

// Supervisor starts components in dependency order, restarts them with
// backoff, probes their health and stops them in reverse order.
type Supervisor struct {
	opts Options
	log  *logging.Logger

	mu       sync.Mutex
	comps    map[string]*component
	order    []*component
	changed  chan struct{}
	started  bool
	closing  bool
	deadline time.Time

	listenMu  sync.Mutex
	listeners []func(Record)

	fatal     chan error
	fatalOnce sync.Once

	healthCancel context.CancelFunc
	healthDone   chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New validates the table against the registries and prepares the record
// table. Nothing runs until Start.
func New(opts Options) (*Supervisor, error) {
	if opts.Table == nil {
		return nil, fmt.Errorf("%w: no component table", errs.ErrInvalidDescriptor)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Services == nil {
		opts.Services = service.NewRegistry[service.Service]()
	}
	if opts.Hooks == nil {
		opts.Hooks = service.NewRegistry[service.Hook]()
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 10 * time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 10 * time.Second
	}
	if opts.ReadyPoll <= 0 {
		opts.ReadyPoll = 100 * time.Millisecond
	}

	var problems []error
	s := &Supervisor{
		opts:    opts,
		log:     opts.Logger.Component("supervisor"),
		comps:   make(map[string]*component),
		changed: make(chan struct{}),
		fatal:   make(chan error, 1),
	}

	for i, d := range opts.Table.Ordered() {
		if d.Service != "" && !opts.Services.Has(d.Service) {
			problems = append(problems, fmt.Errorf("%w: component %q uses unregistered service %q", errs.ErrInvalidDescriptor, d.Name, d.Service))
		}
		if d.Prepare != "" && !opts.Hooks.Has(d.Prepare) {
			problems = append(problems, fmt.Errorf("%w: component %q uses unregistered hook %q", errs.ErrInvalidDescriptor, d.Name, d.Prepare))
		}

		c := &component{
			desc: d,
			log:  opts.Logger.Component(d.Name),
			rec: Record{
				Name:       d.Name,
				Kind:       d.Kind(),
				State:      StatePending,
				Order:      i,
				Autostart:  d.AutostartEnabled(),
				MaxRetries: d.MaxRetries(),
				DependsOn:  append([]string(nil), d.DependsOn...),
			},
			kick:    make(chan request, 1),
			recover: make(chan struct{}, 1),
			done:    make(chan struct{}),
		}
		s.comps[d.Name] = c
		s.order = append(s.order, c)
	}
	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}
	return s, nil
}

// Start launches one goroutine per component and the health loop. It
// returns immediately; use WaitReady to block until components are up.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	if s.closing {
		s.mu.Unlock()
		return errs.ErrShuttingDown
	}
	s.started = true

	// Shutdown, not the caller's context, decides when components stop.
	root := context.WithoutCancel(ctx)
	for _, c := range s.order {
		c.ctx, c.cancel = context.WithCancel(root)
		s.metricState(c.rec)
		go s.run(c)
	}

	healthCtx, cancel := context.WithCancel(root)
	s.healthCancel = cancel
	s.healthDone = make(chan struct{})
	go s.healthLoop(healthCtx)
	s.mu.Unlock()

	s.log.Info("Supervisor started", zap.Strings("order", s.opts.Table.Names()))
	return nil
}

// WaitReady blocks until every autostart component is up. It fails fast
// when one of them is Failed.
func (s *Supervisor) WaitReady(ctx context.Context) error {
	for {
		s.mu.Lock()
		ch := s.changed
		ready := true
		var failed error
		for _, c := range s.order {
			if !c.desc.AutostartEnabled() {
				continue
			}
			if c.rec.State == StateFailed {
				failed = c.lastErr
				if failed == nil {
					failed = errs.New(c.desc.Name, errs.ErrStartupFailure, nil)
				}
				break
			}
			if !c.rec.State.Up() {
				ready = false
			}
		}
		s.mu.Unlock()

		if failed != nil {
			return failed
		}
		if ready {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Fatal delivers at most one session-fatal error.
func (s *Supervisor) Fatal() <-chan error { return s.fatal }

// Subscribe registers fn for every record change. fn runs on the goroutine
// that made the change and must not block.
func (s *Supervisor) Subscribe(fn func(Record)) {
	s.listenMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenMu.Unlock()
}

// Records returns a snapshot of every component in start order.
func (s *Supervisor) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.order))
	for _, c := range s.order {
		out = append(out, c.rec.clone())
	}
	return out
}

// Record returns one component's status.
func (s *Supervisor) Record(name string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comps[name]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", errs.ErrUnknownComponent, name)
	}
	return c.rec.clone(), nil
}

// Table returns the component table.
func (s *Supervisor) Table() *Table { return s.opts.Table }

// Restart forces a restart of a running component, or starts a stopped one.
// It does not consume the restart budget.
func (s *Supervisor) Restart(name string) error {
	c, state, err := s.lookup(name)
	if err != nil {
		return err
	}
	if !state.Up() && state != StateStopped {
		return fmt.Errorf("%w: cannot restart %s while %s", ErrInvalidState, name, state)
	}
	select {
	case c.kick <- requestRestart:
	default:
	}
	return nil
}

// Recover re-arms a Failed component with a fresh retry budget.
func (s *Supervisor) Recover(name string) error {
	c, state, err := s.lookup(name)
	if err != nil {
		return err
	}
	if state != StateFailed {
		return fmt.Errorf("%w: cannot recover %s while %s", ErrInvalidState, name, state)
	}
	select {
	case c.recover <- struct{}{}:
	default:
	}
	return nil
}

func (s *Supervisor) lookup(name string) (*component, State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comps[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", errs.ErrUnknownComponent, name)
	}
	if s.closing {
		return nil, "", errs.ErrShuttingDown
	}
	if !s.started {
		return nil, "", fmt.Errorf("%w: supervisor not started", ErrInvalidState)
	}
	return c, c.rec.State, nil
}

// Shutdown stops every component in reverse start order. Processes get
// SIGTERM and are killed at the shared grace deadline. Calling it again
// returns the first result. If ctx ends first the remaining components are
// abandoned.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.deadline = time.Now().Add(s.opts.ShutdownGrace)
		started := s.started
		s.mu.Unlock()

		if !started {
			return
		}
		s.log.Info("Supervisor shutting down", zap.Duration("grace", s.opts.ShutdownGrace))

		s.healthCancel()
		<-s.healthDone

		var problems []error
		for i := len(s.order) - 1; i >= 0; i-- {
			c := s.order[i]
			c.cancel()
			select {
			case <-c.done:
			case <-ctx.Done():
				problems = append(problems, fmt.Errorf("%s: %w", c.desc.Name, ctx.Err()))
			}
		}
		s.shutdownErr = errors.Join(problems...)
		s.log.Info("Supervisor stopped")
	})
	return s.shutdownErr
}

func (s *Supervisor) stopDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return s.deadline
	}
	return time.Now().Add(s.opts.ShutdownGrace)
}

// update mutates a record under the lock, wakes waiters and notifies
// listeners.
func (s *Supervisor) update(c *component, fn func(r *Record)) Record {
	s.mu.Lock()
	prev := c.rec.State
	fn(&c.rec)
	rec := c.rec.clone()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if rec.State != prev {
		c.log.Debug("State changed", zap.String("from", string(prev)), zap.String("to", string(rec.State)))
		s.metricState(rec)
	}

	s.listenMu.Lock()
	listeners := append([]func(Record){}, s.listeners...)
	s.listenMu.Unlock()
	for _, fn := range listeners {
		fn(rec)
	}
	return rec
}

func (s *Supervisor) setState(c *component, state State) {
	s.update(c, func(r *Record) { r.State = state })
}

func (s *Supervisor) setError(c *component, state State, err error) {
	s.mu.Lock()
	c.lastErr = err
	s.mu.Unlock()
	s.update(c, func(r *Record) {
		r.State = state
		r.LastError = err.Error()
		r.ErrorKind = errs.KindOf(err)
	})
}

func (s *Supervisor) metricState(rec Record) {
	s.opts.Metrics.SetComponentState(rec.Name, string(rec.State), AllStates)
}

func (s *Supervisor) raiseFatal(err error) {
	s.fatalOnce.Do(func() {
		s.log.Error("Session-fatal failure", zap.Error(err))
		s.fatal <- err
	})
}

func (r Record) clone() Record {
	r.DependsOn = append([]string(nil), r.DependsOn...)
	return r
}
