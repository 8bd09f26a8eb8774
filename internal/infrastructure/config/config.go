package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Lease acquisition policies.
const (
	LeasePolicyFailFast = "fail-fast"
	LeasePolicyQueue    = "queue"
)

// Config holds all application configuration. It is loaded once at startup
// and handed to components by value; nothing reads the environment later.
type Config struct {
	Session     SessionConfig
	Browser     BrowserConfig
	Framebuffer FramebufferConfig
	Bridge      BridgeConfig
	Automation  AutomationConfig
	Control     ControlConfig
	Supervisor  SupervisorConfig
	Logging     LogConfig
	Telemetry   TelemetryConfig
	RateLimit   RateLimitConfig
	GRPC        GRPCConfig
}

// SessionConfig describes the sandbox instance and its virtual display.
type SessionConfig struct {
	DisplayIndex int    `envconfig:"DISPLAY_NUM" default:"99"`
	Width        int    `envconfig:"SCREEN_WIDTH" default:"1920"`
	Height       int    `envconfig:"SCREEN_HEIGHT" default:"1080"`
	Depth        int    `envconfig:"SCREEN_DEPTH" default:"24"`
	Persistent   bool   `envconfig:"PERSISTENT_SESSION" default:"false"`
	ProfileDir   string `envconfig:"PROFILE_DIR" default:"/tmp/browserbox/profile"`
	StateDir     string `envconfig:"STATE_DIR" default:"/tmp/browserbox/state"`
	XvfbBinary   string `envconfig:"XVFB_BIN" default:"Xvfb"`
}

// BrowserConfig holds browser launch configuration.
type BrowserConfig struct {
	Binary    string   `envconfig:"BROWSER_BIN"`
	DebugPort int      `envconfig:"DEBUG_PORT" default:"9223"`
	ExtraArgs []string `envconfig:"BROWSER_ARGS"`
}

// FramebufferConfig holds RFB server configuration.
type FramebufferConfig struct {
	Host        string  `envconfig:"RFB_HOST" default:"0.0.0.0"`
	Port        int     `envconfig:"RFB_PORT" default:"5900"`
	CapturePort int     `envconfig:"CAPTURE_PORT" default:"5901"`
	CaptureBin  string  `envconfig:"CAPTURE_BIN" default:"x11vnc"`
	Secret      string  `envconfig:"VNC_PASSWORD"`
	MaxViewers  int     `envconfig:"MAX_VIEWERS" default:"16"`
	AuthRate    float64 `envconfig:"RFB_AUTH_RPS" default:"1"`
	AuthBurst   int     `envconfig:"RFB_AUTH_BURST" default:"5"`
}

// BridgeConfig holds WebSocket bridge configuration.
type BridgeConfig struct {
	Host string `envconfig:"BRIDGE_HOST" default:"0.0.0.0"`
	Port int    `envconfig:"BRIDGE_PORT" default:"6080"`
	Path string `envconfig:"BRIDGE_PATH" default:"/websockify"`
}

// AutomationConfig holds automation gateway and lease configuration.
type AutomationConfig struct {
	Host             string        `envconfig:"AUTOMATION_HOST" default:"127.0.0.1"`
	Port             int           `envconfig:"AUTOMATION_PORT" default:"9222"`
	DefaultTTL       time.Duration `envconfig:"LEASE_DEFAULT_TTL" default:"5m"`
	MaxTTL           time.Duration `envconfig:"LEASE_MAX_TTL" default:"1h"`
	Policy           string        `envconfig:"LEASE_POLICY" default:"fail-fast"`
	BlockViewerInput bool          `envconfig:"LEASE_BLOCKS_VIEWER_INPUT" default:"true"`
}

// ControlConfig holds the application control port configuration.
type ControlConfig struct {
	Host      string `envconfig:"CONTROL_HOST" default:"0.0.0.0"`
	Port      int    `envconfig:"CONTROL_PORT" default:"8000"`
	MasterKey string `envconfig:"API_MASTER_KEY"`
	KeyCost   int    `envconfig:"API_KEY_COST" default:"10"`
}

// SupervisorConfig holds process supervision defaults. Descriptors may
// override the restart policy per component.
type SupervisorConfig struct {
	Descriptors       string        `envconfig:"DESCRIPTORS"`
	ReadyTimeout      time.Duration `envconfig:"READY_TIMEOUT" default:"30s"`
	HealthInterval    time.Duration `envconfig:"HEALTH_INTERVAL" default:"10s"`
	ShutdownGrace     time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`
	RestartInitial    time.Duration `envconfig:"RESTART_INITIAL" default:"1s"`
	RestartMultiplier float64       `envconfig:"RESTART_MULTIPLIER" default:"2"`
	RestartMaxDelay   time.Duration `envconfig:"RESTART_MAX_DELAY" default:"30s"`
	// RestartStableAfter is the uptime after which the retry count resets.
	RestartStableAfter time.Duration `envconfig:"RESTART_STABLE_AFTER" default:"1m"`
	MaxRetries         int           `envconfig:"RESTART_MAX_RETRIES" default:"5"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// TelemetryConfig holds the metrics opt-out.
type TelemetryConfig struct {
	Disabled bool `envconfig:"TELEMETRY_DISABLED" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// GRPCConfig holds the optional gRPC health endpoint. Empty port disables it.
type GRPCConfig struct {
	HealthPort string `envconfig:"GRPC_HEALTH_PORT"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			DisplayIndex: 99,
			Width:        1920,
			Height:       1080,
			Depth:        24,
			Persistent:   false,
			ProfileDir:   "/tmp/browserbox/profile",
			StateDir:     "/tmp/browserbox/state",
			XvfbBinary:   "Xvfb",
		},
		Browser: BrowserConfig{
			DebugPort: 9223,
		},
		Framebuffer: FramebufferConfig{
			Host:        "0.0.0.0",
			Port:        5900,
			CapturePort: 5901,
			CaptureBin:  "x11vnc",
			MaxViewers:  16,
			AuthRate:    1,
			AuthBurst:   5,
		},
		Bridge: BridgeConfig{
			Host: "0.0.0.0",
			Port: 6080,
			Path: "/websockify",
		},
		Automation: AutomationConfig{
			Host:             "127.0.0.1",
			Port:             9222,
			DefaultTTL:       5 * time.Minute,
			MaxTTL:           time.Hour,
			Policy:           LeasePolicyFailFast,
			BlockViewerInput: true,
		},
		Control: ControlConfig{
			Host:    "0.0.0.0",
			Port:    8000,
			KeyCost: 10,
		},
		Supervisor: SupervisorConfig{
			ReadyTimeout:       30 * time.Second,
			HealthInterval:     10 * time.Second,
			ShutdownGrace:      10 * time.Second,
			RestartInitial:     time.Second,
			RestartMultiplier:  2,
			RestartMaxDelay:    30 * time.Second,
			RestartStableAfter: time.Minute,
			MaxRetries:         5,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate checks values that envconfig cannot express as types.
func (c *Config) Validate() error {
	var errs []error

	s := c.Session
	if s.DisplayIndex < 0 {
		errs = append(errs, fmt.Errorf("display index must be >= 0, got %d", s.DisplayIndex))
	}
	if s.Width <= 0 || s.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid resolution %dx%d", s.Width, s.Height))
	}
	switch s.Depth {
	case 8, 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("unsupported color depth %d", s.Depth))
	}
	if s.ProfileDir == "" {
		errs = append(errs, errors.New("profile dir must be set"))
	}

	if c.Framebuffer.Secret == "" {
		errs = append(errs, errors.New("VNC_PASSWORD must be set"))
	}
	if c.Framebuffer.Port == c.Framebuffer.CapturePort {
		errs = append(errs, errors.New("RFB_PORT and CAPTURE_PORT must differ"))
	}
	if c.Control.Port == c.Automation.Port || c.Control.Port == c.Bridge.Port || c.Control.Port == c.Framebuffer.Port {
		errs = append(errs, errors.New("CONTROL_PORT must not reuse another listener's port"))
	}
	if c.Browser.DebugPort == c.Automation.Port {
		errs = append(errs, errors.New("DEBUG_PORT and AUTOMATION_PORT must differ"))
	}

	switch c.Automation.Policy {
	case LeasePolicyFailFast, LeasePolicyQueue:
	default:
		errs = append(errs, fmt.Errorf("unknown lease policy %q", c.Automation.Policy))
	}
	if c.Automation.DefaultTTL <= 0 || c.Automation.MaxTTL < c.Automation.DefaultTTL {
		errs = append(errs, errors.New("lease ttl must be positive and not exceed LEASE_MAX_TTL"))
	}

	sup := c.Supervisor
	if sup.RestartMultiplier < 1 {
		errs = append(errs, fmt.Errorf("restart multiplier must be >= 1, got %g", sup.RestartMultiplier))
	}
	if sup.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must be >= 0, got %d", sup.MaxRetries))
	}
	if sup.ShutdownGrace <= 0 || sup.ReadyTimeout <= 0 || sup.HealthInterval <= 0 {
		errs = append(errs, errors.New("supervisor timeouts must be positive"))
	}

	return errors.Join(errs...)
}

// Resolution returns the screen geometry as WxHxD.
func (s SessionConfig) Resolution() string {
	return fmt.Sprintf("%dx%dx%d", s.Width, s.Height, s.Depth)
}

// ParseResolution parses a WxHxD (or WxH, depth 24) string.
func ParseResolution(value string) (width, height, depth int, err error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(value)), "x")
	depth = 24
	switch len(parts) {
	case 3:
		if _, err = fmt.Sscanf(parts[2], "%d", &depth); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid depth in %q: %w", value, err)
		}
		fallthrough
	case 2:
		if _, err = fmt.Sscanf(parts[0], "%d", &width); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid width in %q: %w", value, err)
		}
		if _, err = fmt.Sscanf(parts[1], "%d", &height); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid height in %q: %w", value, err)
		}
	default:
		return 0, 0, 0, fmt.Errorf("resolution %q must look like 1920x1080x24", value)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, 0, fmt.Errorf("resolution %q must be positive", value)
	}
	return width, height, depth, nil
}
