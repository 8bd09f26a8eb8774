// Command browserbox runs a browser sandbox session and talks to a running
// one.
//
// Usage:
//
//	browserbox                        # same as "browserbox serve"
//	browserbox status                 # component table, lease and viewers
//	browserbox wait --timeout 60s     # block until the session is healthy
//	browserbox lease acquire bot-1 --ttl 5m
//	browserbox keys create --expires 720h
//	browserbox descriptors --format yaml
//
// The server is configured from environment variables (see
// internal/infrastructure/config).
package main
