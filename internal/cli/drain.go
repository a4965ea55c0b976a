package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	syncpkg "github.com/gridops/fieldsync/internal/sync"
)

// DrainCmd returns the drain command
func DrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued writes against the remote backend now",
		Long: `Replay queued writes against the remote backend in queue order.

Connectivity is probed first; nothing is replayed while offline. Only one drain runs at a
time per data directory, including drains started by fieldsyncd.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			a.Monitor.Probe(ctx)
			result, err := a.Scheduler.SyncNow(ctx)
			if err != nil {
				return err
			}
			printDrainResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func printDrainResult(w io.Writer, r *syncpkg.SyncResult) {
	if r.Offline {
		fmt.Fprintln(w, yellow("Offline: nothing was replayed."))
		return
	}
	if r.Attempted == 0 && r.Skipped == 0 {
		fmt.Fprintln(w, green("Nothing to sync."))
		return
	}

	fmt.Fprintf(w, "Replayed %d item(s) in %s\n", r.Attempted, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  synced     %s\n", countColor(r.Synced, green))
	fmt.Fprintf(w, "  failed     %s\n", countColor(r.Failed, red))
	fmt.Fprintf(w, "  conflicts  %s\n", countColor(r.Conflicts, red))
	fmt.Fprintf(w, "  skipped    %d\n", r.Skipped)
	if r.Conflicts > 0 {
		fmt.Fprintln(w, "\nRun 'fieldsync conflicts list' to review conflicts.")
	}
}
