package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ConfigCmd returns the config command
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, _, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := loader.Dump()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if f := loader.FileUsed(); f != "" {
				fmt.Fprintf(w, "# %s\n", f)
			} else {
				fmt.Fprintln(w, "# defaults (no config file found)")
			}
			_, err = w.Write(out)
			return err
		},
	})

	return cmd
}
