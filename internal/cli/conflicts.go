package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/models"
)

// ConflictsCmd returns the conflicts command
func ConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Review and resolve sync conflicts",
	}

	cmd.AddCommand(conflictsListCmd())
	cmd.AddCommand(conflictsShowCmd())
	cmd.AddCommand(conflictsResolveCmd())

	return cmd
}

func conflictsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List unresolved conflicts, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			conflicts, err := a.Ledger.ListUnresolved(ctx)
			if err != nil {
				return err
			}
			printConflicts(cmd.OutOrStdout(), conflicts)
			return nil
		},
	}
}

func printConflicts(w io.Writer, conflicts []models.SyncConflict) {
	if len(conflicts) == 0 {
		fmt.Fprintln(w, green("No unresolved conflicts."))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENTITY\tQUEUE ITEM\tDETECTED")
	for _, c := range conflicts {
		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\n",
			c.ID, c.EntityType, c.EntityID, c.SyncQueueItemID, humanize.Time(c.DetectedAt))
	}
	tw.Flush()
}

func conflictsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <conflict-id>",
		Short: "Show the local and server versions of a conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.Ledger.Get(ctx, args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s/%s\n", bold("Conflict "+c.ID+":"), c.EntityType, c.EntityID)
			fmt.Fprintf(w, "Detected: %s\n", humanize.Time(c.DetectedAt))
			if c.Resolved {
				fmt.Fprintf(w, "Resolved: %s\n", green(string(c.ResolutionStrategy)))
			}
			fmt.Fprintf(w, "\n%s\n%s\n", bold("Local:"), indentJSON(c.LocalPayload))
			fmt.Fprintf(w, "\n%s\n%s\n", bold("Server:"), indentJSON(c.ServerPayload))
			return nil
		},
	}
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "  (none)"
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "  " + string(raw)
	}
	out, _ := json.MarshalIndent(v, "  ", "  ")
	return "  " + string(out)
}

func conflictsResolveCmd() *cobra.Command {
	var (
		strategy    string
		payload     string
		payloadFile string
	)

	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a conflict",
		Long: `Resolve a conflict with one of the strategies:
  LOCAL   - replay the local version on the next drain
  SERVER  - keep the server version and drop the queued write
  MERGED  - replay the payload given with --payload or --payload-file

Examples:
  fieldsync conflicts resolve c-123 --strategy server
  fieldsync conflicts resolve c-123 --strategy merged --payload-file merged.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := models.ResolutionStrategy(strings.ToUpper(strategy))
			if !s.Valid() {
				return apperrors.Validation(fmt.Sprintf("unknown strategy %q (use LOCAL, SERVER or MERGED)", strategy))
			}

			resolved, err := readPayload(payload, payloadFile)
			if err != nil {
				return err
			}
			if s == models.ResolutionMerged && len(resolved) == 0 {
				return apperrors.Validation("MERGED requires --payload or --payload-file")
			}

			ctx := commandContext(cmd)
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Ledger.Resolve(ctx, args[0], s, resolved); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s conflict %s resolved with %s\n", green("✓"), args[0], s)
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "LOCAL, SERVER or MERGED")
	cmd.Flags().StringVar(&payload, "payload", "", "resolved JSON payload")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "file holding the resolved JSON payload")
	_ = cmd.MarkFlagRequired("strategy")
	return cmd
}

func readPayload(inline, file string) (json.RawMessage, error) {
	data := []byte(inline)
	if file != "" {
		var err error
		if data, err = os.ReadFile(file); err != nil {
			return nil, err
		}
	}
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, apperrors.Validation("resolved payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}
