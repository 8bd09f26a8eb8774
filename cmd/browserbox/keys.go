package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func keysCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage control API keys",
	}

	var expires time.Duration
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := newClient(flags).CreateKey(cmd.Context(), expires)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Key)
			fmt.Fprintf(cmd.ErrOrStderr(), "id %s, expires %s. The key is not shown again.\n", resp.Info.ID, resp.Info.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	create.Flags().DurationVar(&expires, "expires", 0, "key lifetime (server default when zero)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := newClient(flags).ListKeys(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tEXPIRES\tLAST USED\tUSES")
			for _, k := range keys {
				lastUsed := "-"
				if !k.LastUsed.IsZero() {
					lastUsed = k.LastUsed.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", k.ID, k.CreatedAt.Format(time.RFC3339), k.ExpiresAt.Format(time.RFC3339), lastUsed, k.UsageCount)
			}
			return tw.Flush()
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke ID",
		Short: "Deactivate a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(flags).RevokeKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "revoked", args[0])
			return nil
		},
	}

	rotate := &cobra.Command{
		Use:   "rotate KEY",
		Short: "Replace KEY with a new key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient(flags).RotateKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Key)
			return nil
		},
	}

	cmd.AddCommand(create, list, revoke, rotate)
	return cmd
}
