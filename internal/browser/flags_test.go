package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlags(t *testing.T) {
	opts := Options{DebugPort: 9223, ProfileDir: "/data/profile", Width: 1920, Height: 1080}
	args := Flags(opts)

	assert.Contains(t, args, "--remote-debugging-address=127.0.0.1")
	assert.Contains(t, args, "--remote-debugging-port=9223")
	assert.Contains(t, args, "--user-data-dir=/data/profile")
	assert.Contains(t, args, "--window-size=1920,1080")
	assert.Contains(t, args, "--no-first-run")
	assert.Equal(t, StartURL, args[len(args)-1])

	assert.Equal(t, args, Flags(opts), "flags must be deterministic")
	assert.IsIncreasing(t, args[:len(args)-1])
}

func TestFlagsExtra(t *testing.T) {
	args := Flags(Options{
		DebugPort:  9223,
		ProfileDir: "/p",
		Width:      800,
		Height:     600,
		Extra: []string{
			"--lang=de-DE",
			"--no-sandbox",
			"--no-start-maximized",
			`--force-color-profile="generic-rgb"`,
			"--remote-debugging-address=0.0.0.0",
			"--user-data-dir=/elsewhere",
		},
	})

	assert.Contains(t, args, "--lang=de-DE")
	assert.Contains(t, args, "--force-color-profile=generic-rgb")
	assert.NotContains(t, args, "--start-maximized")
	assert.NotContains(t, args, "--sandbox")
	assert.Contains(t, args, "--remote-debugging-address=127.0.0.1", "debug endpoint stays on loopback")
	assert.Contains(t, args, "--user-data-dir=/p")
}

func TestVariables(t *testing.T) {
	opts := Options{DebugPort: 9300, ProfileDir: "/p", Width: 1280, Height: 720}
	vars := Variables("/usr/bin/chromium", opts)

	assert.Equal(t, "/usr/bin/chromium", vars.Scalars["BROWSER_BIN"])
	assert.Equal(t, "9300", vars.Scalars["DEBUG_PORT"])

	args, err := vars.ExpandArgs([]string{"${BROWSER_FLAGS}"})
	require.NoError(t, err)
	assert.Equal(t, Flags(opts), args)
}
