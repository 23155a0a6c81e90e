package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Event log database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the event log schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := validConfig()
		if err != nil {
			return err
		}
		d, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer d.Close()
		cmd.Printf("Event log schema is current (%s).\n", d.Driver())
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the event log tables (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		cfg, err := validConfig()
		if err != nil {
			return err
		}
		if !yes {
			ok, err := newPrompter(cmd).Confirm(cmd.Context(), "Delete every recorded run event?")
			if err != nil {
				return err
			}
			if !ok {
				cmd.Println("Reset cancelled.")
				return nil
			}
		}

		d, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.Reset(); err != nil {
			return fmt.Errorf("reset event log: %w", err)
		}
		cmd.Println(okColor.Sprint("Event log reset."))
		return nil
	},
}

func init() {
	dbResetCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
