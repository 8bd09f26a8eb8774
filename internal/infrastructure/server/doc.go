// Package server runs HTTP handlers as supervised services: bind, serve,
// and drain on cancellation.
package server
