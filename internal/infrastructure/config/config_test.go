package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 99, cfg.Session.DisplayIndex)
	assert.Equal(t, "1920x1080x24", cfg.Session.Resolution())
	assert.False(t, cfg.Session.Persistent)

	assert.Equal(t, 9223, cfg.Browser.DebugPort)
	assert.Equal(t, 5900, cfg.Framebuffer.Port)
	assert.Equal(t, 5901, cfg.Framebuffer.CapturePort)
	assert.Equal(t, 6080, cfg.Bridge.Port)
	assert.Equal(t, "/websockify", cfg.Bridge.Path)

	assert.Equal(t, "127.0.0.1", cfg.Automation.Host)
	assert.Equal(t, LeasePolicyFailFast, cfg.Automation.Policy)
	assert.Equal(t, 5*time.Minute, cfg.Automation.DefaultTTL)

	assert.Equal(t, 8000, cfg.Control.Port)
	assert.Equal(t, 5, cfg.Supervisor.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Supervisor.ShutdownGrace)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Telemetry.Disabled)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"DISPLAY_NUM":         "42",
		"SCREEN_WIDTH":        "1280",
		"SCREEN_HEIGHT":       "720",
		"SCREEN_DEPTH":        "16",
		"PERSISTENT_SESSION":  "true",
		"VNC_PASSWORD":        "hunter22",
		"BROWSER_ARGS":        "--lang=en-US,--mute-audio",
		"LEASE_POLICY":        "queue",
		"LEASE_DEFAULT_TTL":   "30s",
		"RESTART_MULTIPLIER":  "1.5",
		"RESTART_MAX_RETRIES": "3",
		"TELEMETRY_DISABLED":  "true",
		"LOG_LEVEL":           "debug",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Session.DisplayIndex)
	assert.Equal(t, "1280x720x16", cfg.Session.Resolution())
	assert.True(t, cfg.Session.Persistent)
	assert.Equal(t, "hunter22", cfg.Framebuffer.Secret)
	assert.Equal(t, []string{"--lang=en-US", "--mute-audio"}, cfg.Browser.ExtraArgs)
	assert.Equal(t, LeasePolicyQueue, cfg.Automation.Policy)
	assert.Equal(t, 30*time.Second, cfg.Automation.DefaultTTL)
	assert.Equal(t, 1.5, cfg.Supervisor.RestartMultiplier)
	assert.Equal(t, 3, cfg.Supervisor.MaxRetries)
	assert.True(t, cfg.Telemetry.Disabled)
	assert.Equal(t, "debug", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoadInvalidValue(t *testing.T) {
	t.Setenv("SCREEN_WIDTH", "wide")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 1920, cfg.Session.Width)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Framebuffer.Secret = "s3cret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing secret",
			mutate:  func(c *Config) { c.Framebuffer.Secret = "" },
			wantErr: "VNC_PASSWORD",
		},
		{
			name:    "control port clash",
			mutate:  func(c *Config) { c.Control.Port = c.Bridge.Port },
			wantErr: "CONTROL_PORT",
		},
		{
			name:    "bad depth",
			mutate:  func(c *Config) { c.Session.Depth = 12 },
			wantErr: "color depth",
		},
		{
			name:    "zero width",
			mutate:  func(c *Config) { c.Session.Width = 0 },
			wantErr: "invalid resolution",
		},
		{
			name:    "port clash",
			mutate:  func(c *Config) { c.Framebuffer.CapturePort = c.Framebuffer.Port },
			wantErr: "must differ",
		},
		{
			name:    "unknown policy",
			mutate:  func(c *Config) { c.Automation.Policy = "lottery" },
			wantErr: "lease policy",
		},
		{
			name:    "shrinking backoff",
			mutate:  func(c *Config) { c.Supervisor.RestartMultiplier = 0.5 },
			wantErr: "multiplier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		input   string
		w, h, d int
		wantErr bool
	}{
		{input: "1920x1080x24", w: 1920, h: 1080, d: 24},
		{input: "1280X720", w: 1280, h: 720, d: 24},
		{input: "800x600x16", w: 800, h: 600, d: 16},
		{input: "1920", wantErr: true},
		{input: "0x600", wantErr: true},
		{input: "axbxc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			w, h, d, err := ParseResolution(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []int{tt.w, tt.h, tt.d}, []int{w, h, d})
		})
	}
}
