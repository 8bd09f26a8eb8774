// Package browser prepares the browser component: which binary to run, the
// flags it is launched with, and the profile directory it writes to.
//
// The core never depends on a particular browser build. Locate picks the
// configured binary or the first known Chromium-family executable on PATH,
// and Flags produces a deterministic argument list so every restart uses
// exactly the same command line.
//
// Profiles are either persistent (kept byte-for-byte across restarts) or
// ephemeral (wiped before every launch). Digest fingerprints a profile so
// persistence can be verified from the status surface.
package browser
