package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridops/fieldsync/internal/app"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/remote"
	"github.com/gridops/fieldsync/internal/services"
)

// DemoCmd returns the demo command
func DemoCmd() *cobra.Command {
	var keep bool

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk through an offline shift against an in-memory backend",
		Long: `Run a scripted field shift in a scratch data directory: cache a ticket, lose the
connection, clock in, log a location and update the ticket offline, then reconnect and drain.

The remote backend and object store are in-memory; nothing leaves the machine.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}

			scratch, err := os.MkdirTemp("", "fieldsync-demo-")
			if err != nil {
				return err
			}
			if !keep {
				defer os.RemoveAll(scratch)
			}

			cfg.DataDir = scratch
			cfg.Remote.BaseURL = ""
			cfg.Storage.Provider = ""
			cfg.Sync.ProbeURL = ""
			cfg.Sync.DrainOnReconnect = false

			ctx := commandContext(cmd)
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := runDemo(ctx, cmd.OutOrStdout(), a); err != nil {
				return err
			}
			if keep {
				fmt.Fprintf(cmd.OutOrStdout(), "\nData kept in %s\n", scratch)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keep, "keep", false, "keep the scratch data directory")
	return cmd
}

func runDemo(ctx context.Context, w io.Writer, a *app.App) error {
	step := func(format string, args ...interface{}) {
		fmt.Fprintf(w, "%s %s\n", bold("→"), fmt.Sprintf(format, args...))
	}

	seed := models.Ticket{
		ID:            "demo-ticket",
		TicketNumber:  "STORM-0001",
		Status:        "ASSIGNED",
		Priority:      "HIGH",
		Address:       "400 Feeder Line Rd",
		AssignedTo:    "crew-7",
		UtilityClient: "Demo Electric",
	}
	if mem, ok := a.Backend.(*remote.MemoryBackend); ok {
		if err := mem.Seed(services.TicketsCollection, seed); err != nil {
			return err
		}
	}
	ticket, err := a.Tickets.CacheTicket(ctx, seed)
	if err != nil {
		return err
	}
	step("cached ticket %s", ticket.TicketNumber)

	a.Monitor.Set(false)
	step("connection lost (%s)", yellow("offline"))

	lat, lng := 30.2672, -97.7431
	entry, err := a.TimeEntries.ClockIn(ctx, services.ClockInInput{
		SubcontractorID: "crew-7",
		TicketID:        ticket.ID,
		WorkType:        "LINE_REPAIR",
		WorkTypeRate:    85,
		Latitude:        &lat,
		Longitude:       &lng,
	})
	if err != nil {
		return err
	}
	if err := entry.Err(); err != nil {
		return err
	}
	step("clocked in: %s", entry.SoftSuccessMessage())

	if _, err := a.GPS.LogLocation(ctx, services.LogLocationInput{
		TicketID: ticket.ID, SubcontractorID: "crew-7", Latitude: lat, Longitude: lng, Accuracy: 8,
	}); err != nil {
		return err
	}
	step("logged GPS location")

	update, err := a.Tickets.UpdateTicket(ctx, ticket.ID, services.TicketChanges{"status": "IN_PROGRESS"})
	if err != nil {
		return err
	}
	if err := update.Err(); err != nil {
		return err
	}
	step("ticket set to IN_PROGRESS: %s", update.SoftSuccessMessage())

	pending, err := a.Queue.ListPending(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	printQueue(w, pending)
	fmt.Fprintln(w)

	a.Monitor.Set(true)
	step("connection restored (%s), draining", green("online"))

	result, err := a.Scheduler.SyncNow(ctx)
	if err != nil {
		return err
	}
	printDrainResult(w, result)
	return nil
}
