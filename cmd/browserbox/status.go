package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	controlapi "github.com/GriffinCanCode/browserbox/internal/http"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/healthgrpc"
	"github.com/GriffinCanCode/browserbox/internal/supervisor"
)

var stateColors = map[supervisor.State]*color.Color{
	supervisor.StateRunning:  color.New(color.FgGreen),
	supervisor.StateDegraded: color.New(color.FgYellow),
	supervisor.StateFailed:   color.New(color.FgRed, color.Bold),
	supervisor.StateBlocked:  color.New(color.FgMagenta),
	supervisor.StateStarting: color.New(color.FgCyan),
}

func paintState(s supervisor.State) string {
	if c, ok := stateColors[s]; ok {
		return c.Sprint(string(s))
	}
	return color.New(color.Faint).Sprint(string(s))
}

func statusCmd(flags *globalFlags) *cobra.Command {
	var grpcAddr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show component states, the automation lease and viewers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if grpcAddr != "" {
				st, err := healthgrpc.Check(cmd.Context(), grpcAddr, healthgrpc.Overall)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), st.String())
				return nil
			}

			status, err := newClient(flags).Status(cmd.Context())
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), status, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&grpcAddr, "grpc", "", "query the gRPC health service at this address instead")
	return cmd
}

func renderStatus(w io.Writer, status *controlapi.StatusResponse, now time.Time) {
	if s := status.Session; s != nil {
		fmt.Fprintf(w, "Session %s  display %s  %dx%d\n\n", s.ID, s.Display(), s.Width, s.Height)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tSTATE\tPID\tUPTIME\tRESTARTS\tERROR")
	for _, c := range status.Components {
		pid := "-"
		if c.PID > 0 {
			pid = fmt.Sprint(c.PID)
		}
		uptime := "-"
		if c.UptimeSeconds > 0 {
			uptime = (time.Duration(c.UptimeSeconds) * time.Second).String()
		}
		errText := c.LastError
		if c.ErrorKind != "" {
			errText = c.ErrorKind + ": " + errText
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", c.Name, paintState(c.State), pid, uptime, c.Restarts, truncate(errText, 60))
	}
	tw.Flush()

	fmt.Fprintln(w)
	if l := status.Lease; l.Held {
		fmt.Fprintf(w, "Lease: held by %s until %s (%s left)\n",
			color.New(color.Bold).Sprint(l.Holder), l.ExpiresAt.Local().Format(time.Kitchen), l.ExpiresAt.Sub(now).Round(time.Second))
	} else {
		fmt.Fprintln(w, "Lease: free")
	}
	fmt.Fprintf(w, "Viewers: %d\n", status.Viewers)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
