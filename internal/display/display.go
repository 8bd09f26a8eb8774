package display

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/browserbox/internal/domain/session"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/service"
	"github.com/GriffinCanCode/browserbox/internal/supervisor"
)

// HookReset is the prepare hook name for the display component.
const HookReset = "display.reset"

// ErrInUse means another live X server owns the display number.
var ErrInUse = errors.New("display in use")

// Display is the geometry and on-disk footprint of one X display.
type Display struct {
	Index  int
	Width  int
	Height int
	Depth  int
	Binary string
	// Root holds the lock file and the .X11-unix socket directory.
	Root string
}

// New derives the display from the session.
func New(sess *session.Session, binary string) Display {
	return Display{
		Index:  sess.DisplayIndex,
		Width:  sess.Width,
		Height: sess.Height,
		Depth:  sess.Depth,
		Binary: binary,
		Root:   os.TempDir(),
	}
}

func (d Display) Name() string       { return fmt.Sprintf(":%d", d.Index) }
func (d Display) Resolution() string { return fmt.Sprintf("%dx%dx%d", d.Width, d.Height, d.Depth) }

// SocketPath is the unix socket clients connect to.
func (d Display) SocketPath() string {
	return filepath.Join(d.Root, ".X11-unix", fmt.Sprintf("X%d", d.Index))
}

// LockPath is the server's pid lock file.
func (d Display) LockPath() string {
	return filepath.Join(d.Root, fmt.Sprintf(".X%d-lock", d.Index))
}

// Variables returns the descriptor variables of the display component.
func (d Display) Variables() supervisor.Variables {
	return supervisor.NewVariables().
		Set("XVFB_BIN", d.Binary).
		Set("DISPLAY", d.Name()).
		Set("DISPLAY_NUM", strconv.Itoa(d.Index)).
		Set("WIDTH", strconv.Itoa(d.Width)).
		Set("HEIGHT", strconv.Itoa(d.Height)).
		Set("DEPTH", strconv.Itoa(d.Depth)).
		Set("RESOLUTION", d.Resolution()).
		Set("X11_SOCKET", d.SocketPath())
}

// Reset removes a stale lock file and socket. It fails with ErrInUse when
// the lock belongs to a live process.
func (d Display) Reset() error {
	if pid, ok := d.lockOwner(); ok && alive(pid) {
		return fmt.Errorf("%w: %s held by pid %d", ErrInUse, d.Name(), pid)
	}

	for _, path := range []string{d.LockPath(), d.SocketPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}

	dir := filepath.Dir(d.SocketPath())
	if err := os.MkdirAll(dir, 0o1777); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}

// ResetHook adapts Reset to a supervisor prepare hook.
func (d Display) ResetHook(log *logging.Logger) service.Hook {
	return func(context.Context) error {
		if err := d.Reset(); err != nil {
			return err
		}
		log.Debug("Display reset", zap.String("display", d.Name()), zap.String("resolution", d.Resolution()))
		return nil
	}
}

// lockOwner parses the pid an X server writes into its lock file.
func (d Display) lockOwner() (int, bool) {
	data, err := os.ReadFile(d.LockPath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
