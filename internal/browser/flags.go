package browser

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/browserbox/internal/supervisor"
)

// StartURL is opened in the first window.
const StartURL = "about:blank"

// Options are the inputs to Flags.
type Options struct {
	DebugPort  int
	ProfileDir string
	Width      int
	Height     int
	// Extra holds "--name=value" or "--name" overrides. "--no-name" removes
	// a default flag.
	Extra []string
}

// defaultFlags follow Puppeteer's and Playwright's headful defaults.
func defaultFlags() map[string]string {
	return map[string]string{
		"disable-background-networking":                      "",
		"disable-background-timer-throttling":                "",
		"disable-backgrounding-occluded-windows":             "",
		"disable-breakpad":                                   "",
		"disable-component-extensions-with-background-pages": "",
		"disable-default-apps":                               "",
		"disable-dev-shm-usage":                              "",
		"disable-features":                                   "Translate,MediaRouter,DestroyProfileOnBrowserClose",
		"disable-hang-monitor":                               "",
		"disable-ipc-flooding-protection":                    "",
		"disable-popup-blocking":                             "",
		"disable-prompt-on-repost":                           "",
		"disable-renderer-backgrounding":                     "",
		"force-color-profile":                                "srgb",
		"metrics-recording-only":                             "",
		"no-first-run":                                       "",
		"no-default-browser-check":                           "",
		"no-sandbox":                                         "",
		"password-store":                                     "basic",
		"use-mock-keychain":                                  "",
		"start-maximized":                                    "",
		"window-position":                                    "0,0",
	}
}

// Flags builds the browser command line. The result is sorted by flag name,
// so identical options always give identical arguments. The debugging
// endpoint is bound to loopback and cannot be overridden.
func Flags(opts Options) []string {
	flags := defaultFlags()

	for _, arg := range opts.Extra {
		name, value, _ := strings.Cut(strings.TrimPrefix(strings.TrimSpace(arg), "--"), "=")
		if name == "" {
			continue
		}
		if strings.HasPrefix(name, "no-") {
			if _, ok := flags[strings.TrimPrefix(name, "no-")]; ok && value == "" {
				delete(flags, strings.TrimPrefix(name, "no-"))
				continue
			}
		}
		flags[name] = strings.Trim(value, `"'`)
	}

	flags["remote-debugging-address"] = "127.0.0.1"
	flags["remote-debugging-port"] = strconv.Itoa(opts.DebugPort)
	flags["user-data-dir"] = opts.ProfileDir
	flags["window-size"] = fmt.Sprintf("%d,%d", opts.Width, opts.Height)

	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]string, 0, len(names)+1)
	for _, name := range names {
		if value := flags[name]; value != "" {
			args = append(args, "--"+name+"="+value)
		} else {
			args = append(args, "--"+name)
		}
	}
	return append(args, StartURL)
}

// Variables returns the descriptor variables of the browser component.
func Variables(binary string, opts Options) supervisor.Variables {
	return supervisor.NewVariables().
		Set("BROWSER_BIN", binary).
		Set("DEBUG_PORT", strconv.Itoa(opts.DebugPort)).
		Set("PROFILE_DIR", opts.ProfileDir).
		SetList("BROWSER_FLAGS", Flags(opts))
}
