package main

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/browserbox/internal/sandbox"
)

func descriptorsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "descriptors",
		Short: "Print the resolved component table in start order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			sb, err := sandbox.New(sandbox.Options{Config: cfg})
			if err != nil {
				return err
			}
			defer sb.Tracer.Close()

			doc := map[string]any{"components": sb.Supervisor.Table().Ordered()}
			var out []byte
			switch format {
			case "yaml":
				out, err = yaml.Marshal(doc)
			case "json":
				out, err = sonic.ConfigStd.MarshalIndent(doc, "", "  ")
				out = append(out, '\n')
			default:
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "yaml", "output format: yaml or json")
	return cmd
}
