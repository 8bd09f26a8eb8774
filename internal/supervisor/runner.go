package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
)

// run owns the lifecycle of one component until its context is cancelled.
func (s *Supervisor) run(c *component) {
	defer close(c.done)
	defer s.setState(c, StateStopped)

	ctx := c.ctx
	name := c.desc.Name
	attempts := 0

	if !c.desc.AutostartEnabled() {
		s.setState(c, StateStopped)
		if !s.park(ctx, c.kick, nil) {
			return
		}
	}

	for {
		if !s.awaitDependencies(ctx, c) {
			return
		}

		inst, err := s.launch(ctx, c)
		if ctx.Err() != nil {
			if inst != nil {
				s.stopInstance(c, inst, StateStopping)
			}
			return
		}

		if err == nil {
			runningSince := time.Now()
			reason, exitErr := s.watch(ctx, c, inst)
			if attempts > 0 && time.Since(runningSince) >= c.desc.StableAfter() {
				c.log.Debug("Stable run, restart budget reset", zap.Int("attempts", attempts))
				attempts = 0
				s.update(c, func(r *Record) { r.Attempts = 0 })
			}
			switch reason {
			case reasonShutdown:
				s.stopInstance(c, inst, StateStopping)
				return
			case reasonOperator:
				c.log.Info("Restart requested")
				s.stopInstance(c, inst, StateStopping)
				s.countRestart(c)
				continue
			case reasonUnhealthy:
				s.stopInstance(c, inst, StateDegraded)
				err = errors.New("health probe failed")
			case reasonExited:
				s.clearInstance(c)
				if !c.desc.shouldRestart(exitErr) {
					if exitErr == nil {
						c.log.Info("Exited", zap.String("policy", string(c.desc.Autorestart.Policy)))
						s.setState(c, StateStopped)
						if !s.park(ctx, c.kick, nil) {
							return
						}
						continue
					}
					err = fmt.Errorf("exited: %w", exitErr)
					s.fail(c, err)
					if !s.park(ctx, nil, c.recover) {
						return
					}
					attempts = 0
					continue
				}
				if exitErr == nil {
					exitErr = errors.New("exited")
				}
				err = fmt.Errorf("exited: %w", exitErr)
				c.log.Warn("Component exited", zap.Error(exitErr))
			}
		}

		attempts++
		s.update(c, func(r *Record) { r.Attempts = attempts })
		if attempts > c.desc.MaxRetries() {
			s.fail(c, errs.New(name, errs.ErrCrashLoop, err))
			if !s.park(ctx, nil, c.recover) {
				return
			}
			c.log.Info("Recovered by operator")
			attempts = 0
			s.update(c, func(r *Record) { r.Attempts = 0; r.State = StatePending })
			continue
		}

		delay := c.desc.Backoff().Delay(attempts - 1)
		c.log.Warn("Restarting after backoff",
			zap.Error(err),
			zap.Int("attempt", attempts),
			zap.Int("max_retries", c.desc.MaxRetries()),
			zap.Duration("delay", delay))
		s.setError(c, StatePending, err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		s.countRestart(c)
	}
}

// park waits for an operator signal. It returns false on shutdown.
func (s *Supervisor) park(ctx context.Context, kick <-chan request, recovered <-chan struct{}) bool {
	select {
	case <-kick:
		return true
	case <-recovered:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) fail(c *component, err error) {
	c.log.Error("Component failed", zap.Error(err))
	s.setError(c, StateFailed, err)
	if c.desc.Name == s.opts.CriticalComponent {
		s.raiseFatal(errs.New(c.desc.Name, errs.ErrDisplayUnavailable, err))
	}
}

func (s *Supervisor) countRestart(c *component) {
	s.update(c, func(r *Record) { r.Restarts++ })
	s.opts.Metrics.IncRestarts(c.desc.Name)
}

// awaitDependencies blocks until every predecessor is up. While a
// predecessor is Failed or Blocked the component is Blocked.
func (s *Supervisor) awaitDependencies(ctx context.Context, c *component) bool {
	for {
		s.mu.Lock()
		ch := s.changed
		blockedBy, waiting := "", false
		for _, dep := range c.desc.DependsOn {
			switch st := s.comps[dep].rec.State; {
			case st.Up():
			case st == StateFailed || st == StateBlocked:
				blockedBy = dep
			default:
				waiting = true
			}
		}
		current := c.rec.State
		s.mu.Unlock()

		if blockedBy == "" && !waiting {
			return true
		}

		want := StatePending
		if blockedBy != "" {
			want = StateBlocked
		}
		if current != want {
			if want == StateBlocked {
				s.update(c, func(r *Record) {
					r.State = StateBlocked
					r.LastError = "blocked by " + blockedBy
				})
			} else {
				s.setState(c, want)
			}
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}

// launch runs the prepare hook, starts the instance and waits for readiness.
func (s *Supervisor) launch(ctx context.Context, c *component) (instance, error) {
	name := c.desc.Name
	s.update(c, func(r *Record) {
		r.State = StateStarting
		r.PID = 0
	})

	if c.desc.Prepare != "" {
		if err := s.runHook(ctx, c.desc.Prepare); err != nil {
			return nil, errs.New(name, errs.ErrStartupFailure, fmt.Errorf("prepare %s: %w", c.desc.Prepare, err))
		}
	}

	var inst instance
	switch c.desc.Kind() {
	case KindService:
		svc, err := s.opts.Services.Lookup(c.desc.Service)
		if err != nil {
			return nil, errs.New(name, errs.ErrStartupFailure, err)
		}
		inst = startService(ctx, svc)
	default:
		p, err := startProcess(c.desc, c.log)
		if err != nil {
			return nil, errs.New(name, errs.ErrStartupFailure, err)
		}
		inst = p
	}

	if err := c.desc.Ready.WaitReady(ctx, s.opts.ReadyPoll, inst.Exited()); err != nil {
		select {
		case <-inst.Exited():
			if cause := inst.Err(); cause != nil {
				err = cause
			}
		default:
			_ = inst.Stop(s.stopDeadline())
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		kind := errs.ErrStartupFailure
		if errors.Is(err, errs.ErrPortConflict) {
			kind = errs.ErrPortConflict
		}
		return nil, errs.New(name, kind, err)
	}

	rec := s.update(c, func(r *Record) {
		r.State = StateRunning
		r.PID = inst.PID()
		r.StartedAt = time.Now()
	})
	s.mu.Lock()
	c.inst = inst
	s.mu.Unlock()

	c.log.Info("Component running", zap.Int("pid", rec.PID), zap.Int("restarts", rec.Restarts))
	return inst, nil
}

func (s *Supervisor) runHook(ctx context.Context, name string) (err error) {
	hook, err := s.opts.Hooks.Lookup(name)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return hook(ctx)
}

func (s *Supervisor) watch(ctx context.Context, c *component, inst instance) (exitReason, error) {
	select {
	case <-inst.Exited():
		return reasonExited, inst.Err()
	case req := <-c.kick:
		if req == requestUnhealthy {
			return reasonUnhealthy, nil
		}
		return reasonOperator, nil
	case <-ctx.Done():
		return reasonShutdown, nil
	}
}

func (s *Supervisor) stopInstance(c *component, inst instance, state State) {
	s.setState(c, state)
	if err := inst.Stop(s.stopDeadline()); err != nil {
		c.log.Warn("Stop was not graceful", zap.Error(err))
	}
	s.clearInstance(c)
}

func (s *Supervisor) clearInstance(c *component) {
	s.mu.Lock()
	c.inst = nil
	s.mu.Unlock()

	// Requests aimed at the old instance are stale.
	select {
	case <-c.kick:
	default:
	}
	s.update(c, func(r *Record) { r.PID = 0 })
}

// healthLoop probes every up component once per interval.
func (s *Supervisor) healthLoop(ctx context.Context) {
	defer close(s.healthDone)

	ticker := time.NewTicker(s.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth(ctx)
		}
	}
}

func (s *Supervisor) checkHealth(ctx context.Context) {
	for _, c := range s.order {
		s.mu.Lock()
		inst, state := c.inst, c.rec.State
		s.mu.Unlock()

		if inst == nil || !state.Up() {
			continue
		}

		if !inst.Alive() {
			// The exit watcher restarts it.
			continue
		}
		err := c.desc.Health.Check(ctx)
		if ctx.Err() != nil {
			return
		}

		now := time.Now()
		if err == nil {
			s.update(c, func(r *Record) {
				r.LastHealth = now
				if r.State == StateDegraded {
					r.State = StateRunning
				}
			})
			continue
		}

		c.log.Warn("Health probe failed", zap.Error(err))
		s.opts.Metrics.IncProbeFailures(c.desc.Name)
		s.update(c, func(r *Record) {
			r.LastHealth = now
			if r.State.Up() {
				r.State = StateDegraded
				r.LastError = err.Error()
			}
		})
		select {
		case c.kick <- requestUnhealthy:
		default:
		}
	}
}
