package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/browserbox/internal/domain/session"
	controlapi "github.com/GriffinCanCode/browserbox/internal/http"
	"github.com/GriffinCanCode/browserbox/internal/lease"
	"github.com/GriffinCanCode/browserbox/internal/supervisor"
)

func TestRenderStatus(t *testing.T) {
	color.NoColor = true
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	renderStatus(&buf, &controlapi.StatusResponse{
		Session: &session.Session{ID: "sess_x", DisplayIndex: 99, Width: 1280, Height: 720},
		Components: []controlapi.ComponentStatus{
			{Record: supervisor.Record{Name: "display", State: supervisor.StateRunning, PID: 42}, UptimeSeconds: 90},
			{Record: supervisor.Record{Name: "browser", State: supervisor.StateFailed, Restarts: 5, ErrorKind: "CrashLoop", LastError: "exited"}},
		},
		Lease:   lease.Status{Held: true, Holder: "bot", ExpiresAt: now.Add(time.Minute)},
		Viewers: 2,
	}, now)

	out := buf.String()
	assert.Contains(t, out, "Session sess_x  display :99  1280x720")
	assert.Regexp(t, `display\s+running\s+42\s+1m30s\s+0`, out)
	assert.Regexp(t, `browser\s+failed\s+-\s+-\s+5\s+CrashLoop: exited`, out)
	assert.Contains(t, out, "held by bot")
	assert.Contains(t, out, "(1m0s left)")
	assert.Contains(t, out, "Viewers: 2")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}
