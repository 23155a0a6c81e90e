package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/skillctl/internal/version"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare the installed version with the latest release",
	Long: `Reads the local manifest and fetches the remote one. Nothing is changed.
A network failure is reported but is not an error.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		out := cmd.OutOrStdout()
		res, err := r.Check(cmd.Context())
		if err != nil {
			fmt.Fprintf(out, "%s %v\n", warnColor.Sprint("Could not check for updates:"), err)
			return nil
		}
		if asJSON {
			return writeJSON(out, res)
		}
		printCheck(out, res)
		return nil
	},
}

func printCheck(out io.Writer, res *version.CheckResult) {
	switch res.Status {
	case version.StatusUpToDate:
		fmt.Fprintf(out, "%s (%s)\n", okColor.Sprint("Up to date"), res.Local)
	case version.StatusUpdateAvailable:
		fmt.Fprintf(out, "%s: %s -> %s", warnColor.Sprint("Update available"), res.Local, res.Remote.Version)
		if res.Remote.ReleaseDate != "" {
			fmt.Fprintf(out, " (released %s)", res.Remote.ReleaseDate)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, dimColor.Sprint("Run `skillctl update` to install it."))
	default:
		fmt.Fprintf(out, "Installed %s; %s\n", res.Local, warnColor.Sprint(res.Reason))
	}
}

func init() {
	checkCmd.Flags().Bool("json", false, "output the result as JSON")
}
