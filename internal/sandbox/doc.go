// Package sandbox assembles a browser session from configuration.
//
// It owns the wiring between components: the supervisor's component table
// and its registered services and hooks, the automation lease shared by the
// gateway and the framebuffer's input arbiter, and the control surfaces
// (HTTP control API and optional gRPC health) that report on all of them.
package sandbox
