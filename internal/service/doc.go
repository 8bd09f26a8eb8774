// Package service provides named registries for in-process components.
//
// The supervisor runs two kinds of work besides external processes:
// long-running services (framebuffer server, protocol bridge, automation
// gateway) and prepare hooks executed before a component (re)starts. Both are
// looked up by the name written in a descriptor, so the supervisor never
// branches on component identity.
//
// Example Usage:
//
//	services := service.NewRegistry[service.Service]()
//	services.Register("bridge", bridgeServer)
//	hooks := service.NewRegistry[service.Hook]()
//	hooks.Register("display.reset", display.ResetHook(sess))
package service
