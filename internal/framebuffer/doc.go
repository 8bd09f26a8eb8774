// Package framebuffer serves the virtual display to remote viewers.
//
// The server speaks the viewer side of the RFB protocol itself so it can
// authenticate viewers with the shared secret and arbitrate input, and
// relays everything else to the capture server listening on loopback.
package framebuffer
