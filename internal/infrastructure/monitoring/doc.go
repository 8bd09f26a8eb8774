// Package monitoring provides Prometheus metrics for browserbox.
//
// Metrics live in a private registry rather than the global default, so
// several instances can coexist in tests. The control server exposes the
// registry at /metrics unless telemetry is disabled.
//
// Metric families:
//   - browserbox_http_*: control API requests
//   - browserbox_component_*: supervisor state and restarts
//   - browserbox_health_probe_failures_total
//   - browserbox_viewer*: framebuffer viewers, auth failures, dropped input
//   - browserbox_bridge_*: WebSocket bridge connections and bytes
//   - browserbox_lease_events_total
package monitoring
