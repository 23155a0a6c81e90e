package cli

import (
	"github.com/spf13/cobra"
)

var buildVersion = "dev"

func SetVersion(v string) {
	buildVersion = v
}

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "skillctl",
	Short: "Keep a managed skills tree current and ship session work",
	Long: `skillctl updates a managed tree of assistant skills, commands and agents from
a remote release (with snapshot and rollback), and finalizes working sessions:
lint, build, commit, push, open a change request, gate it on an automated
review and merge it.

Configuration is read from ./skillctl.yaml, ./.skillctl/config.yaml or
~/.skillctl/config.yaml. Run records live under the state directory
(~/.skillctl by default) as JSON, with an optional SQL event log.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to skillctl config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console or json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}
