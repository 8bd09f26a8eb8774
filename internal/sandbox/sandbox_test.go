package sandbox

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/browserbox/internal/client"
	"github.com/GriffinCanCode/browserbox/internal/domain/session"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
	"github.com/GriffinCanCode/browserbox/internal/supervisor"
)

const servicesOnly = `
components:
  - name: framebuffer
    service: framebuffer
    ready:
      kind: tcp
      address: ${RFB_PROBE_ADDR}
  - name: bridge
    service: bridge
    depends_on: [framebuffer]
    ready:
      kind: tcp
      address: ${BRIDGE_PROBE_ADDR}
  - name: gateway
    service: gateway
    ready:
      kind: tcp
      address: ${AUTOMATION_PROBE_ADDR}
`

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func fakeLookPath(file string) (string, error) {
	if file == "chromium" {
		return "/usr/bin/chromium", nil
	}
	return "", errors.New("not found")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	descriptors := filepath.Join(dir, "components.yaml")
	require.NoError(t, os.WriteFile(descriptors, []byte(servicesOnly), 0o644))

	cfg := config.Default()
	cfg.Session.StateDir = filepath.Join(dir, "state")
	cfg.Session.ProfileDir = filepath.Join(dir, "profile")
	cfg.Supervisor.Descriptors = descriptors
	cfg.Supervisor.ShutdownGrace = 2 * time.Second
	cfg.Framebuffer.Host = "127.0.0.1"
	cfg.Framebuffer.Port = freePort(t)
	cfg.Framebuffer.Secret = "hunter22"
	cfg.Bridge.Host = "127.0.0.1"
	cfg.Bridge.Port = freePort(t)
	cfg.Automation.Port = freePort(t)
	cfg.Control.Host = "127.0.0.1"
	cfg.Control.Port = freePort(t)
	cfg.Control.MasterKey = "master"
	cfg.Control.KeyCost = 4
	return cfg
}

func TestVariables(t *testing.T) {
	cfg := config.Default()
	cfg.Supervisor.Descriptors = ""
	sb, err := New(Options{Config: cfg, LookPath: fakeLookPath})
	require.NoError(t, err)
	defer sb.Tracer.Close()

	vars := sb.Variables()
	tests := map[string]string{
		"${BROWSER_BIN}":           "/usr/bin/chromium",
		"${DISPLAY}":               ":99",
		"${CAPTURE_PORT}":          "5901",
		"${RFB_PROBE_ADDR}":        "127.0.0.1:5900",
		"${BRIDGE_PROBE_ADDR}":     "127.0.0.1:6080",
		"${AUTOMATION_PROBE_ADDR}": "127.0.0.1:9222",
	}
	for in, want := range tests {
		got, err := vars.Expand(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	assert.Contains(t, vars.Lists["BROWSER_FLAGS"], "--remote-debugging-port=9223")

	names := sb.Supervisor.Table().Names()
	assert.Equal(t, []string{"display", "browser", "capture", "framebuffer", "bridge", "gateway"}, names)
}

func TestMissingBrowserStillBuilds(t *testing.T) {
	cfg := config.Default()
	sb, err := New(Options{Config: cfg, LookPath: func(string) (string, error) { return "", errors.New("none") }})
	require.NoError(t, err)
	defer sb.Tracer.Close()

	got, err := sb.Variables().Expand("${BROWSER_BIN}")
	require.NoError(t, err)
	assert.Equal(t, "chromium", got)
}

func TestRunServicesOnly(t *testing.T) {
	cfg := testConfig(t)
	sb, err := New(Options{Config: cfg, LookPath: fakeLookPath, Version: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sb.Run(ctx) }()

	c := client.New(client.Options{
		BaseURL: "http://127.0.0.1:" + strconv.Itoa(cfg.Control.Port),
		APIKey:  cfg.Control.MasterKey,
	})
	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	require.NoError(t, c.Wait(waitCtx, 20*time.Millisecond))

	status, err := c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.Components, 3)
	for _, comp := range status.Components {
		assert.Equal(t, supervisor.StateRunning, comp.State, comp.Name)
	}

	published, err := session.Read(cfg.Session.StateDir)
	require.NoError(t, err)
	assert.Equal(t, sb.Session.ID, published.ID)
	assert.Equal(t, cfg.Control.Port, published.Ports.Control)

	grant, err := c.AcquireLease(ctx, "bot", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "bot", grant.Holder)
	assert.True(t, sb.Leases.Active())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("sandbox did not stop")
	}

	assert.False(t, sb.Leases.Active(), "shutdown ends the lease")
	_, err = os.Stat(filepath.Join(cfg.Session.StateDir, session.FileName))
	assert.True(t, os.IsNotExist(err), "session file removed")
	for _, rec := range sb.Supervisor.Records() {
		assert.Equal(t, supervisor.StateStopped, rec.State, rec.Name)
	}
}

func TestRunControlPortConflict(t *testing.T) {
	cfg := testConfig(t)
	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Control.Host, strconv.Itoa(cfg.Control.Port)))
	require.NoError(t, err)
	defer ln.Close()

	sb, err := New(Options{Config: cfg, LookPath: fakeLookPath})
	require.NoError(t, err)
	err = sb.Run(context.Background())
	assert.ErrorIs(t, err, errs.ErrPortConflict)
	assert.Equal(t, supervisor.StatePending, sb.Supervisor.Records()[0].State, "components never start")
}
