// Package display describes the virtual X display the browser renders into.
//
// The display server itself is an ordinary supervised process; this package
// supplies its launch variables and the display.reset prepare hook, which
// clears the lock file and socket a crashed server leaves behind so the
// display can be recreated with identical parameters.
package display
