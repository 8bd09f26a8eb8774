// Package http provides the control API of a browser sandbox session.
//
// The control port is read-mostly: health checks and operators inspect the
// component table, the automation lease and the connected viewers. Routes
// that change state (lease acquisition, input control, component restarts,
// API key management) require an X-API-Key header.
//
// Endpoints:
//   - Health: / and /health
//   - Status: /status, /status/processes/:name, /session
//   - Viewers: /viewers, /viewers/:id/input
//   - Lease: /lease
//   - Components: /processes/:name/restart, /processes/:name/recover
//   - Keys: /keys, /keys/rotate, /keys/:id
//   - Metrics: /metrics (unless telemetry is disabled)
//
// Example Usage:
//
//	handlers := http.NewHandlers(http.Deps{Supervisor: sup, Leases: leases})
//	router := http.NewRouter(handlers, http.RouterOptions{CORS: middleware.DefaultCORSConfig()})
package http
