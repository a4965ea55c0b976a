package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/photo"
)

// PhotosCmd returns the photos command
func PhotosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photos",
		Short: "Capture photos and manage their upload",
	}

	cmd.AddCommand(photosPendingCmd())
	cmd.AddCommand(photosProcessCmd())
	cmd.AddCommand(photosCaptureCmd())

	return cmd
}

func photosPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List photos waiting for upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			photos, err := a.Photos.ListPending(ctx)
			if err != nil {
				return err
			}
			printPhotos(cmd.OutOrStdout(), photos)
			return nil
		},
	}
}

func printPhotos(w io.Writer, photos []models.LocalPhoto) {
	if len(photos) == 0 {
		fmt.Fprintln(w, green("No photos waiting for upload."))
		return
	}

	var total int64
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tENTITY\tSIZE\tSTATUS\tRETRIES\tTAKEN\tLAST ERROR")
	for _, p := range photos {
		taken := humanize.Time(p.CreatedAt)
		if p.CapturedAt != nil {
			taken = humanize.Time(*p.CapturedAt)
		}
		status := string(p.UploadStatus)
		if p.UploadStatus == models.UploadFailed {
			status = red(status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%s\t%d\t%s\t%s\n",
			p.ID, p.Type, p.EntityType, p.EntityID,
			humanize.Bytes(uint64(p.SizeBytes)), status, p.RetryCount, taken, truncate(p.LastError, 50))
		total += p.SizeBytes
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d photo(s), %s to upload\n", len(photos), humanize.Bytes(uint64(total)))
}

func photosProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Upload pending photos now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			a.Monitor.Probe(ctx)
			if !a.Monitor.Online() {
				fmt.Fprintln(cmd.OutOrStdout(), yellow("Offline: photos stay queued."))
				return nil
			}

			result, err := a.Scheduler.ProcessPhotosNow(ctx)
			if err != nil {
				return err
			}
			printProcessResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func printProcessResult(w io.Writer, r photo.ProcessResult) {
	if r.Processed == 0 {
		fmt.Fprintln(w, green("No photos to upload."))
		return
	}
	fmt.Fprintf(w, "Processed %d photo(s): %s uploaded, %s failed\n",
		r.Processed, countColor(r.Uploaded, green), countColor(r.Failed, red))
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s %s: %s\n", red("✗"), e.PhotoID, e.Message)
	}
}

func photosCaptureCmd() *cobra.Command {
	var (
		photoType  string
		entityType string
		entityID   string
		ticketID   string
		lat, lng   float64
	)

	cmd := &cobra.Command{
		Use:   "capture <image-file>",
		Short: "Store an image and queue it for upload",
		Long: `Store an image in the local photo store and queue it for upload.

Examples:
  fieldsync photos capture pole.jpg --entity assessment --entity-id a-1 --type DAMAGE --lat 30.2 --lng -97.7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			in := photo.CaptureInput{
				Data:       data,
				Type:       models.PhotoType(strings.ToUpper(photoType)),
				EntityType: models.EntityType(entityType),
				EntityID:   entityID,
				TicketID:   ticketID,
			}
			if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng") {
				in.Latitude, in.Longitude = &lat, &lng
			}

			result, err := a.Photos.Capture(ctx, in)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s stored %s (%s, %s)\n", green("✓"), result.Photo.ID,
				result.Photo.ContentType, humanize.Bytes(uint64(result.Photo.SizeBytes)))
			for _, warning := range result.Warnings {
				fmt.Fprintf(w, "  %s %s\n", yellow("!"), warning)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&photoType, "type", string(models.PhotoOverview), "OVERVIEW, EQUIPMENT, DAMAGE, SAFETY or CONTEXT")
	cmd.Flags().StringVar(&entityType, "entity", string(models.EntityAssessment), "owning entity type")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "owning entity id")
	cmd.Flags().StringVar(&ticketID, "ticket", "", "ticket id")
	cmd.Flags().Float64Var(&lat, "lat", 0, "GPS latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "GPS longitude")
	_ = cmd.MarkFlagRequired("entity-id")
	return cmd
}
