package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/skillctl/internal/tree"
	"github.com/lucasnoah/skillctl/internal/update"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the managed tree to the latest release",
	Long: `Checks for a newer release, asks for confirmation, snapshots the system
entries of the managed tree, fetches and verifies the release archive and
replaces the system entries. Protected entries are never touched. If the
apply or its verification fails the snapshot is restored.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		asJSON, _ := cmd.Flags().GetBool("json")

		e, cleanup, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		f, err := e.fetcher()
		if err != nil {
			return err
		}
		r, err := e.resolver(f)
		if err != nil {
			return err
		}
		part, err := e.cfg.Partition()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		ctl := update.New(update.Options{
			Resolver:    r,
			Fetcher:     f,
			Backups:     e.backups(),
			Applier:     tree.NewApplier(part, e.cfg.ManagedRoot(), tree.OSFS{}, e.logger),
			Partition:   part,
			ManagedRoot: e.cfg.ManagedRoot(),
			ArchiveURL:  e.cfg.Update.ArchiveURL,
			Confirmer:   newPrompter(cmd),
			AssumeYes:   yes,
			Logger:      e.logger,
			Recorders:   e.recorders(),
		})
		rep, err := ctl.Run(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			if err := writeJSON(out, rep); err != nil {
				return err
			}
		} else {
			printUpdateReport(out, rep)
		}
		if rep.Failed() {
			return fmt.Errorf("update %s at %s", rep.Status, rep.FailedStage)
		}
		return nil
	},
}

func printUpdateReport(out io.Writer, rep *update.Report) {
	switch rep.Terminal {
	case update.StateUpToDate:
		fmt.Fprintf(out, "%s (%s)\n", okColor.Sprint("Already up to date"), rep.From)
	case update.StateAborted:
		fmt.Fprintln(out, warnColor.Sprint("Update cancelled; nothing was changed."))
	case update.StateSucceeded:
		fmt.Fprintf(out, "%s %s -> %s\n", okColor.Sprint("Updated"), rep.From, rep.To)
		if rep.Applied != nil {
			fmt.Fprintf(out, "  replaced: %d entries, removed: %d\n", len(rep.Applied.Replaced), len(rep.Applied.Removed))
		}
		if rep.BackupTag != "" {
			fmt.Fprintf(out, "  backup:   %s\n", rep.BackupTag)
		}
	default:
		fmt.Fprintf(out, "%s at %s", failColor.Sprint("Update failed"), rep.FailedStage)
		if rep.Failure != "" {
			fmt.Fprintf(out, " [%s]", rep.Failure)
		}
		fmt.Fprintln(out)
		if rep.Error != "" {
			fmt.Fprintf(out, "  %s\n", rep.Error)
		}
		switch {
		case rep.RolledBack:
			fmt.Fprintf(out, "  rolled back to %s from backup %s\n", rep.From, rep.BackupTag)
		case rep.BackupTag != "":
			fmt.Fprintf(out, "  restore manually with: skillctl restore %s\n", rep.BackupTag)
		}
	}
	fmt.Fprintf(out, "%s\n", dimColor.Sprintf("run %s: %s", rep.RunID, colorizeStatus(rep.Status)))
}

func init() {
	updateCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	updateCmd.Flags().Bool("json", false, "output the report as JSON")
}
