// Package config provides 12-factor configuration management for browserbox.
//
// Configuration is loaded once from environment variables with defaults and
// then passed explicitly to every component. Nothing else in the module reads
// the environment.
//
// Configuration Sections:
//   - Session: display index, resolution, depth, profile persistence
//   - Browser: binary and local remote-debugging port
//   - Framebuffer: RFB port, capture port, shared secret, viewer limits
//   - Bridge: WebSocket relay port and path
//   - Automation: gateway port and lease policy
//   - Control: status/control HTTP port and API keys
//   - Supervisor: descriptors, readiness, health, backoff, shutdown grace
//   - Logging, Telemetry, RateLimit, GRPC
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil { ... }
//	if err := cfg.Validate(); err != nil { ... }
//	fmt.Println(cfg.Session.Resolution()) // 1920x1080x24
//
// Environment Variables:
//   - DISPLAY_NUM, SCREEN_WIDTH, SCREEN_HEIGHT, SCREEN_DEPTH, PERSISTENT_SESSION
//   - BROWSER_BIN, DEBUG_PORT, VNC_PASSWORD, RFB_PORT, BRIDGE_PORT
//   - AUTOMATION_PORT, LEASE_POLICY, CONTROL_PORT, API_MASTER_KEY
//   - LOG_LEVEL, LOG_DEV, TELEMETRY_DISABLED
package config
