package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/skillctl/internal/update"
)

var restoreCmd = &cobra.Command{
	Use:   "restore [backup-or-version]",
	Short: "Restore the managed tree from a backup",
	Long: `Restores the system entries captured in a backup. The argument is a backup
name or a version (the newest backup taken at that version). Without an
argument the backups are listed and one is selected interactively.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		e, cleanup, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		opts := update.RestoreOptions{AssumeYes: yes}
		if len(args) == 1 {
			opts.Tag = args[0]
		}
		p := newPrompter(cmd)
		opts.Selector, opts.Confirmer = p, p

		b, err := update.Restore(cmd.Context(), e.backups(), opts)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if b == nil {
			fmt.Fprintln(out, warnColor.Sprint("Restore cancelled; nothing was changed."))
			return nil
		}
		fmt.Fprintf(out, "%s %s (version %s)\n", okColor.Sprint("Restored"), b.Name(), b.Tag)
		return nil
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List backups of the managed tree, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		mgr := e.backups()
		list, err := mgr.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintf(out, "No backups in %s\n", mgr.Dir())
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tCREATED\tPATHS")
		for _, b := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", b.Name(), b.Tag, b.CreatedAt.Local().Format(time.DateTime), len(b.Paths))
		}
		return w.Flush()
	},
}

func init() {
	restoreCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
}
