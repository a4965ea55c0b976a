package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gridops/fieldsync/internal/app"
	"github.com/gridops/fieldsync/internal/config"
	"github.com/gridops/fieldsync/internal/daemon"
	"github.com/gridops/fieldsync/internal/logging"
	"github.com/gridops/fieldsync/internal/version"
)

func main() {
	var (
		configPath string
		dataDir    string
		addr       string
	)

	rootCmd := &cobra.Command{
		Use:     "fieldsyncd",
		Short:   "fieldsync background daemon",
		Version: version.String(),
		Long: `fieldsyncd drains queued writes and uploads photos in the background, and serves a
local control API with a websocket stream of sync events.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := config.NewLoader(configPath, dataDir)
			if err != nil {
				return err
			}
			if addr != "" {
				loader.Set("server.addr", addr)
			}
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			logger := app.ConfigureLogging(cfg.Log)
			defer logger.Close()

			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("open data dir: %w", err)
			}
			defer a.Close()

			logging.Info("fieldsyncd starting", map[string]interface{}{
				"version":  version.String(),
				"data_dir": cfg.DataDir,
				"config":   loader.FileUsed(),
			})
			return daemon.New(loader, a).Run(cmd.Context())
		},
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "config file")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory")
	rootCmd.Flags().StringVar(&addr, "addr", "", "control API listen address (overrides server.addr)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
