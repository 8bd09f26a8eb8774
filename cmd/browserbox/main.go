package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/browserbox/internal/client"
	"github.com/GriffinCanCode/browserbox/internal/domain/session"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	url    string
	apiKey string
}

func main() {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "browserbox",
		Short:         "Run and control a sandboxed, remotely viewable browser session",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := &serveFlags{}
	serve.register(root)
	root.RunE = serve.run
	root.PersistentFlags().StringVar(&flags.url, "url", "", "control API base URL (default: from the published session)")
	root.PersistentFlags().StringVar(&flags.apiKey, "api-key", os.Getenv("BROWSERBOX_API_KEY"), "control API key")

	root.AddCommand(
		serveCmd(),
		statusCmd(&flags),
		waitCmd(&flags),
		leaseCmd(&flags),
		keysCmd(&flags),
		descriptorsCmd(),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newClient resolves the control URL from the flag, the published session
// or the configured port, in that order.
func newClient(flags *globalFlags) *client.Client {
	url := flags.url
	if url == "" {
		cfg := config.LoadOrDefault()
		port := cfg.Control.Port
		if sess, err := session.Read(cfg.Session.StateDir); err == nil {
			port = sess.Ports.Control
		}
		url = "http://127.0.0.1:" + strconv.Itoa(port)
	}
	key := flags.apiKey
	if key == "" {
		key = os.Getenv("API_MASTER_KEY")
	}
	return client.New(client.Options{BaseURL: url, APIKey: key})
}
