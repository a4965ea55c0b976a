package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/services"
)

// TicketsCmd returns the tickets command
func TicketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Work with the offline ticket cache",
	}

	cmd.AddCommand(ticketsListCmd())
	return cmd
}

func ticketsListCmd() *cobra.Command {
	var (
		refresh    bool
		assignedTo string
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached tickets",
		Long: `List cached tickets, newest first.

With --refresh the cache is reloaded from the backend first when online.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			filters := services.TicketFilters{AssignedTo: assignedTo, Status: status}
			var tickets []models.Ticket
			if refresh {
				a.Monitor.Probe(ctx)
				tickets, err = a.Tickets.RefreshTickets(ctx, filters)
			} else {
				tickets, err = a.Tickets.GetCachedTickets(ctx, filters)
			}
			if err != nil {
				return err
			}
			printTickets(cmd.OutOrStdout(), tickets)
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "reload from the backend when online")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "only tickets assigned to this user")
	cmd.Flags().StringVar(&status, "status", "", "only tickets with this status")
	return cmd
}

func printTickets(w io.Writer, tickets []models.Ticket) {
	if len(tickets) == 0 {
		fmt.Fprintln(w, "No cached tickets.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tSTATUS\tPRIORITY\tADDRESS\tSYNC\tUPDATED")
	for _, t := range tickets {
		sync := green("synced")
		if !t.Synced {
			sync = yellow(string(t.SyncStatus))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.TicketNumber, t.Status, t.Priority, truncate(t.Address, 40), sync, humanize.Time(t.UpdatedAt))
	}
	tw.Flush()
}
