package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/config"
)

func baseConfig() *config.Config {
	cfg := config.Default()
	cfg.Framebuffer.Secret = "s3cret"
	return cfg
}

func TestServeFlagsOverride(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, cfg *config.Config)
		wantErr string
	}{
		{
			name: "unset flags keep environment values",
			args: nil,
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, baseConfig(), cfg)
			},
		},
		{
			name: "resolution and policy",
			args: []string{"--resolution", "1280x720", "--lease-policy", "queue"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "1280x720x24", cfg.Session.Resolution())
				assert.Equal(t, config.LeasePolicyQueue, cfg.Automation.Policy)
			},
		},
		{
			name: "persistent profile and logging",
			args: []string{"--persistent", "--log-level", "debug", "--dev", "--control-port", "8100"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.True(t, cfg.Session.Persistent)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.True(t, cfg.Logging.Development)
				assert.Equal(t, 8100, cfg.Control.Port)
			},
		},
		{name: "bad resolution", args: []string{"--resolution", "huge"}, wantErr: "resolution"},
		{name: "bad policy", args: []string{"--lease-policy", "lottery"}, wantErr: "lease policy"},
		{name: "control port clash", args: []string{"--control-port", "6080"}, wantErr: "CONTROL_PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &serveFlags{}
			cmd := &cobra.Command{Use: "serve"}
			f.register(cmd)
			require.NoError(t, cmd.ParseFlags(tt.args))

			cfg := baseConfig()
			err := f.apply(cmd, cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
