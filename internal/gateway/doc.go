// Package gateway exposes the browser's remote-debugging endpoint to
// automation clients that hold the automation lease. Callers present the
// lease ID issued on acquisition in the X-Automation-Lease header or the
// "lease" query parameter; the holder's name grants nothing.
//
// Discovery documents under /json are fetched from the browser and their
// debugger URLs rewritten to point back at the gateway. /devtools sockets
// are proxied message by message and closed when the lease that opened
// them ends.
package gateway
