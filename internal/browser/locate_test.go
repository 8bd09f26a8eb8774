package browser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeLookPath(installed ...string) func(string) (string, error) {
	return func(file string) (string, error) {
		for _, name := range installed {
			if name == file {
				return "/usr/bin/" + file, nil
			}
		}
		return "", errors.New("not found")
	}
}

func TestLocate(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		installed []string
		want      string
		wantErr   error
	}{
		{
			name:      "configured path",
			path:      "/opt/chrome/chrome",
			installed: []string{"/opt/chrome/chrome", "chromium"},
			want:      "/opt/chrome/chrome",
		},
		{
			name:      "configured path missing",
			path:      "/opt/missing",
			installed: []string{"chromium"},
			wantErr:   ErrNotFoundAtPath,
		},
		{
			name:      "first candidate wins",
			installed: []string{"google-chrome", "chromium"},
			want:      "/usr/bin/chromium",
		},
		{
			name:      "headless shell fallback",
			installed: []string{"headless_shell"},
			want:      "/usr/bin/headless_shell",
		},
		{
			name:    "nothing installed",
			wantErr: ErrNotInstalled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Locate(tt.path, fakeLookPath(tt.installed...))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
