package browser

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotInstalled   = errors.New("no supported browser found")
	ErrNotFoundAtPath = errors.New("browser not found at path")
)

// candidates are tried in order when no binary is configured.
var candidates = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"google-chrome-beta",
	"google-chrome-unstable",
	"/usr/bin/google-chrome",
	"headless_shell",
	"headless-shell",
	"chrome",
}

// Locate returns path when it resolves, otherwise the first candidate that
// lookPath finds. lookPath is normally exec.LookPath.
func Locate(path string, lookPath func(file string) (string, error)) (string, error) {
	if path := strings.TrimSpace(path); path != "" {
		if _, err := lookPath(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("%w: %s", ErrNotFoundAtPath, path)
	}

	for _, candidate := range candidates {
		if resolved, err := lookPath(candidate); err == nil {
			return resolved, nil
		}
	}
	return "", ErrNotInstalled
}
