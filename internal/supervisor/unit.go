package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/service"
)

// errKilled reports that a process ignored SIGTERM until the grace deadline.
var errKilled = errors.New("killed after grace deadline")

// instance is one running incarnation of a component.
type instance interface {
	PID() int
	Exited() <-chan struct{}
	// Err is the exit cause. Valid once Exited is closed.
	Err() error
	Alive() bool
	Stop(deadline time.Time) error
}

type processInstance struct {
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

func startProcess(d Descriptor, log *logging.Logger) (*processInstance, error) {
	cmd := exec.Command(d.Command, d.Args...)
	cmd.Dir = d.Dir
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+d.Env[k])
	}
	// Own process group so signals reach every child the command spawns.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = time.Second

	stdout, closeStdout, err := openOutput(d.Stdout, log, "stdout")
	if err != nil {
		return nil, err
	}
	stderr, closeStderr, err := openOutput(d.Stderr, log, "stderr")
	if err != nil {
		closeStdout()
		return nil, err
	}
	cmd.Stdout, cmd.Stderr = stdout, stderr

	if err := cmd.Start(); err != nil {
		closeStdout()
		closeStderr()
		return nil, fmt.Errorf("starting %s: %w", d.Command, err)
	}

	p := &processInstance{cmd: cmd, exited: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		// Reap stragglers left in the group by a crashed leader.
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		closeStdout()
		closeStderr()
		close(p.exited)
	}()
	return p, nil
}

func (p *processInstance) PID() int                { return p.cmd.Process.Pid }
func (p *processInstance) Exited() <-chan struct{} { return p.exited }
func (p *processInstance) Err() error              { return p.err }

func (p *processInstance) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return unix.Kill(p.PID(), 0) == nil
	}
}

// Stop sends SIGTERM to the process group and SIGKILL at deadline.
func (p *processInstance) Stop(deadline time.Time) error {
	group := -p.PID()
	if err := unix.Kill(group, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		_ = unix.Kill(group, unix.SIGKILL)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-p.exited:
		return nil
	case <-timer.C:
		_ = unix.Kill(group, unix.SIGKILL)
		<-p.exited
		return errKilled
	}
}

type serviceInstance struct {
	cancel context.CancelFunc
	exited chan struct{}
	err    error
}

func startService(ctx context.Context, svc service.Service) *serviceInstance {
	ctx, cancel := context.WithCancel(ctx)
	s := &serviceInstance{cancel: cancel, exited: make(chan struct{})}

	go func() {
		defer close(s.exited)
		defer func() {
			if r := recover(); r != nil {
				s.err = fmt.Errorf("service panic: %v", r)
			}
		}()
		s.err = svc.Run(ctx)
	}()
	return s
}

func (s *serviceInstance) PID() int                { return 0 }
func (s *serviceInstance) Exited() <-chan struct{} { return s.exited }
func (s *serviceInstance) Err() error              { return s.err }

func (s *serviceInstance) Alive() bool {
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Stop cancels the service context and waits until deadline for Run to return.
func (s *serviceInstance) Stop(deadline time.Time) error {
	s.cancel()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-s.exited:
		return nil
	case <-timer.C:
		return fmt.Errorf("service did not stop by deadline")
	}
}
