package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	controlapi "github.com/GriffinCanCode/browserbox/internal/http"
)

func leaseCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Manage the automation lease",
	}

	var ttl time.Duration
	printGrant := func(cmd *cobra.Command, g controlapi.LeaseResponse) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s held by %s until %s\n", g.LeaseID, g.Holder, g.ExpiresAt.Format(time.RFC3339))
	}

	acquire := &cobra.Command{
		Use:   "acquire CLIENT",
		Short: "Acquire the lease for CLIENT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := newClient(flags).AcquireLease(cmd.Context(), args[0], ttl)
			if err != nil {
				return err
			}
			printGrant(cmd, g)
			return nil
		},
	}
	acquire.Flags().DurationVar(&ttl, "ttl", 0, "lease duration (server default when zero)")

	renew := &cobra.Command{
		Use:   "renew CLIENT",
		Short: "Extend the lease held by CLIENT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := newClient(flags).RenewLease(cmd.Context(), args[0], ttl)
			if err != nil {
				return err
			}
			printGrant(cmd, g)
			return nil
		},
	}
	renew.Flags().DurationVar(&ttl, "ttl", 0, "new lease duration from now")

	release := &cobra.Command{
		Use:   "release CLIENT",
		Short: "Release the lease held by CLIENT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(flags).ReleaseLease(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "released")
			return nil
		},
	}

	cmd.AddCommand(acquire, renew, release)
	return cmd
}
