// Package healthgrpc exposes the session's component table over the
// standard gRPC health checking protocol.
//
// Every component is a health service named after it. The empty service
// name reports the whole session and is SERVING only while every autostart
// component is running.
package healthgrpc
