// Package session describes the one sandbox instance a core manages.
//
// A Session is created when the supervisor starts and removed when it shuts
// down. It carries the display geometry and the profile persistence flag;
// components receive it explicitly instead of reading globals.
//
// The session is also published as session.json in the state directory so
// tooling outside the process (health checks, viewers) can discover the
// display and ports without talking to the control API.
//
// Example Usage:
//
//	sess := session.New(cfg)
//	if err := sess.Publish(cfg.Session.StateDir); err != nil { ... }
//	defer sess.Unpublish(cfg.Session.StateDir)
package session
