package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/skillctl/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect the skillctl configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file and show the paths it resolves to",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if errs := config.Validate(cfg); len(errs) > 0 {
			cmd.Println(failColor.Sprintf("%s has %d problem(s):", cfg.Path(), len(errs)))
			for _, e := range errs {
				cmd.Printf("  - %s\n", e)
			}
			return fmt.Errorf("invalid configuration")
		}

		cmd.Printf("%s (%s)\n", okColor.Sprint("Configuration is valid."), cfg.Path())
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "  managed tree\t%s\n", cfg.ManagedRoot())
		fmt.Fprintf(w, "  system entries\t%d\n", len(cfg.Managed.System))
		fmt.Fprintf(w, "  protected entries\t%d\n", len(cfg.Managed.Protected))
		fmt.Fprintf(w, "  release manifest\t%s\n", orDash(cfg.Update.ManifestURL))
		fmt.Fprintf(w, "  backups\t%s\n", cfg.BackupDir())
		fmt.Fprintf(w, "  run records\t%s\n", cfg.RunsDir())
		fmt.Fprintf(w, "  event log\t%s %s\n", cfg.DB.Driver, cfg.DSN())
		return w.Flush()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		cmd.Print(string(data))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
