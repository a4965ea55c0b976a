package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gridops/fieldsync/internal/app"
)

// StatusCmd returns the status command
func StatusCmd() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue, conflict and photo counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if probe {
				a.Monitor.Probe(ctx)
			}
			return printStatus(cmd.OutOrStdout(), a, cmd)
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "probe connectivity before reporting")
	return cmd
}

func printStatus(w io.Writer, a *app.App, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	st, err := a.Scheduler.GetStatus(ctx)
	if err != nil {
		return err
	}
	conflicts, err := a.Ledger.ListUnresolved(ctx)
	if err != nil {
		return err
	}

	online := green("online")
	if !st.IsOnline {
		online = yellow("offline")
	}
	fmt.Fprintf(w, "%s %s\n", bold("Connectivity:"), online)
	fmt.Fprintf(w, "%s %s\n", bold("Data dir:    "), a.Config.DataDir)
	fmt.Fprintln(w)

	fmt.Fprintln(w, bold("Queue:"))
	fmt.Fprintf(w, "  pending     %d\n", st.QueueStats["pending"])
	fmt.Fprintf(w, "  processing  %d\n", st.QueueStats["processing"])
	fmt.Fprintf(w, "  failed      %s\n", countColor(st.QueueStats["failed"], red))
	fmt.Fprintf(w, "  synced      %d\n", st.QueueStats["synced"])
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s %s\n", bold("Unresolved conflicts:"), countColor(len(conflicts), red))
	fmt.Fprintf(w, "%s %s\n", bold("Photos awaiting upload:"), countColor(st.PendingPhotos, yellow))
	return nil
}

func countColor(n int, paint func(a ...interface{}) string) string {
	if n == 0 {
		return fmt.Sprint(n)
	}
	return paint(n)
}
