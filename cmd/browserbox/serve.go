package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/sandbox"
)

// serveFlags override selected environment settings. Only flags the user
// set are applied.
type serveFlags struct {
	resolution  string
	persistent  bool
	controlPort int
	leasePolicy string
	logLevel    string
	dev         bool
}

func (f *serveFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.resolution, "resolution", "", "screen resolution as WxH or WxHxD (env SCREEN_WIDTH, SCREEN_HEIGHT, SCREEN_DEPTH)")
	fs.BoolVar(&f.persistent, "persistent", false, "keep the browser profile across sessions (env PERSISTENT_SESSION)")
	fs.IntVar(&f.controlPort, "control-port", 0, "control API port (env CONTROL_PORT)")
	fs.StringVar(&f.leasePolicy, "lease-policy", "", "automation lease policy: fail-fast or queue (env LEASE_POLICY)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (env LOG_LEVEL)")
	fs.BoolVar(&f.dev, "dev", false, "human-readable development logging (env LOG_DEV)")
}

func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	if fs.Changed("resolution") {
		w, h, d, err := config.ParseResolution(f.resolution)
		if err != nil {
			return err
		}
		cfg.Session.Width, cfg.Session.Height, cfg.Session.Depth = w, h, d
	}
	if fs.Changed("persistent") {
		cfg.Session.Persistent = f.persistent
	}
	if fs.Changed("control-port") {
		cfg.Control.Port = f.controlPort
	}
	if fs.Changed("lease-policy") {
		cfg.Automation.Policy = f.leasePolicy
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if fs.Changed("dev") {
		cfg.Logging.Development = f.dev
	}
	return cfg.Validate()
}

func serveCmd() *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the session and supervise it until interrupted",
		RunE:  f.run,
	}
	f.register(cmd)
	return cmd
}

func (f *serveFlags) run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := f.apply(cmd, cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	sb, err := sandbox.New(sandbox.Options{Config: cfg, Logger: log, Version: version})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting browserbox",
		zap.String("version", version),
		zap.String("session_id", sb.Session.ID.String()),
		zap.String("display", sb.Session.Display()))
	return sb.Run(ctx)
}
