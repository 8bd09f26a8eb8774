// Package bridge relays the framebuffer protocol over WebSocket so browser
// viewers can connect without a native client.
//
// Each WebSocket connection gets exactly one upstream TCP connection to the
// framebuffer server. Bytes are copied synchronously in both directions, so
// a slow side applies backpressure to the other, and either side closing
// closes both.
package bridge
