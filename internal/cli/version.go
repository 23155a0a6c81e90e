package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/skillctl/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the skillctl version and the installed release",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "skillctl version %s\n", buildVersion)

		cfg, err := loadConfig()
		if err != nil {
			return
		}
		local, err := version.ReadLocal(cfg.ManifestPath())
		if err != nil {
			fmt.Fprintf(out, "managed tree: %s\n", dimColor.Sprint("unknown"))
			return
		}
		fmt.Fprintf(out, "managed tree: %s", local.Version)
		if local.ReleaseDate != "" {
			fmt.Fprintf(out, " (released %s)", local.ReleaseDate)
		}
		fmt.Fprintln(out)
	},
}
