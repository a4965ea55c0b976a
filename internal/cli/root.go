// Package cli implements the fieldsync command line.
package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gridops/fieldsync/internal/app"
	"github.com/gridops/fieldsync/internal/config"
	"github.com/gridops/fieldsync/internal/version"
)

var (
	configPath string
	dataDir    string
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// RootCmd returns the fieldsync command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "fieldsync",
		Short:   "Offline-first sync for field operations",
		Version: version.String(),
		Long: `fieldsync inspects and drives the local store of a field device: the queue of
writes waiting for the remote backend, sync conflicts and photos waiting for upload.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: search data dir and $XDG_CONFIG_HOME/fieldsync)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: $HOME/.fieldsync)")

	root.AddCommand(StatusCmd())
	root.AddCommand(QueueCmd())
	root.AddCommand(ConflictsCmd())
	root.AddCommand(DrainCmd())
	root.AddCommand(PhotosCmd())
	root.AddCommand(TicketsCmd())
	root.AddCommand(ConfigCmd())
	root.AddCommand(DemoCmd())
	root.AddCommand(VersionCmd())

	return root
}

func loadConfig() (*config.Loader, *config.Config, error) {
	loader, err := config.NewLoader(configPath, dataDir)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

// openApp loads config and opens the data directory. Callers must Close the app.
func openApp(ctx context.Context) (*app.App, error) {
	_, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	app.ConfigureLogging(cfg.Log)
	return app.New(ctx, cfg)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// VersionCmd returns the version command
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fieldsync %s\n", version.String())
		},
	}
}
