// Package supervisor runs the sandbox's components as a dependency graph.
//
// Components are declared by descriptors (YAML, TOML or JSON, or the
// embedded default table) and are either external processes or in-process
// services looked up by name. The supervisor:
//
//   - starts each component once all of its predecessors are up and its
//     readiness probe passes
//   - restarts exited components with exponential backoff until the retry
//     budget of the current recovery epoch is spent, then marks them Failed
//     and their dependents Blocked
//   - probes health on one ticker and restarts only the unhealthy component
//   - stops everything in reverse start order, sending SIGTERM to each
//     process group and SIGKILL at the shared grace deadline
//
// Example Usage:
//
//	table, err := supervisor.Load(cfg.Supervisor.Descriptors, vars, supervisor.DefaultsFrom(cfg.Supervisor))
//	sup, err := supervisor.New(supervisor.Options{Table: table, Services: services, Hooks: hooks, Logger: log})
//	sup.Start(ctx)
//	defer sup.Shutdown(context.Background())
package supervisor
