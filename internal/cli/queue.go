package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gridops/fieldsync/internal/models"
)

// QueueCmd returns the queue command
func QueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and retry queued writes",
	}

	cmd.AddCommand(queueListCmd())
	cmd.AddCommand(queueRetryCmd())
	cmd.AddCommand(queueRetryAllCmd())

	return cmd
}

func queueListCmd() *cobra.Command {
	var (
		all    bool
		status string
		entity string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued writes in replay order",
		Long: `List queued writes in replay order.

By default only writes still waiting for the backend (pending and failed) are shown.

Examples:
  fieldsync queue list
  fieldsync queue list --all
  fieldsync queue list --status failed --entity ticket`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.Queue.ListPending(ctx)
			if all || status != "" {
				items, err = a.Queue.List(ctx)
			}
			if err != nil {
				return err
			}

			var filtered []models.SyncQueueItem
			for _, item := range items {
				if status != "" && string(item.Status) != status {
					continue
				}
				if entity != "" && string(item.EntityType) != entity {
					continue
				}
				filtered = append(filtered, item)
			}

			printQueue(cmd.OutOrStdout(), filtered)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include synced and processing items")
	cmd.Flags().StringVar(&status, "status", "", "only items with this status (pending, processing, synced, failed)")
	cmd.Flags().StringVar(&entity, "entity", "", "only items of this entity type")
	return cmd
}

func printQueue(w io.Writer, items []models.SyncQueueItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "Queue is empty.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tOP\tENTITY\tSTATUS\tRETRIES\tUPDATED\tLAST ERROR")
	for _, item := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s/%s\t%s\t%d\t%s\t%s\n",
			item.Seq,
			item.ID,
			item.Operation,
			item.EntityType, item.EntityID,
			statusColor(item.Status),
			item.RetryCount,
			humanize.Time(item.UpdatedAt),
			truncate(item.LastError, 60),
		)
	}
	tw.Flush()
}

func statusColor(s models.QueueStatus) string {
	switch s {
	case models.QueueStatusSynced:
		return green(string(s))
	case models.QueueStatusFailed:
		return red(string(s))
	case models.QueueStatusProcessing:
		return yellow(string(s))
	default:
		return string(s)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func queueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <queue-item-id>",
		Short: "Reset a failed write so the next drain replays it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Queue.Retry(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s reset to pending\n", green("✓"), args[0])
			return nil
		},
	}
}

func queueRetryAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-all",
		Short: "Reset every failed write to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Queue.RetryAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d failed item(s) reset to pending\n", green("✓"), n)
			return nil
		},
	}
}
