package cli

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/skillctl/internal/analytics"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query pipeline analytics from the event log",
}

var analyticsStageDurationCmd = &cobra.Command{
	Use:   "stage-duration",
	Short: "Average and percentile durations per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, since, cleanup, err := openAnalytics(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		results, err := analytics.QueryStageDurations(e.db, since)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), results)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PIPELINE\tSTAGE\tCOUNT\tAVG\tP50\tP95")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", r.Pipeline, r.Stage, r.Count, ms(r.AvgMs), ms(r.P50Ms), ms(r.P95Ms))
		}
		return w.Flush()
	},
}

var analyticsOutcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "How finished runs ended, per pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, since, cleanup, err := openAnalytics(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		results, err := analytics.QueryOutcomes(e.db, since)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), results)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PIPELINE\tTERMINAL\tSTATUS\tRUNS\tSHARE")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.1f%%\n", r.Pipeline, r.Terminal, r.Status, r.Count, r.Pct)
		}
		return w.Flush()
	},
}

var analyticsCheckFailuresCmd = &cobra.Command{
	Use:   "check-failures",
	Short: "Which checks fail most and how often auto-fix rescues them",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, since, cleanup, err := openAnalytics(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		results, err := analytics.QueryCheckFailures(e.db, since)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), results)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHECK\tRUNS\tFAILED\tAUTO-FIXED")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%d\t%d (%.1f%%)\t%d (%.1f%%)\n", r.Check, r.Runs, r.Failures, r.FailPct, r.AutoFixed, r.AutoFixPct)
		}
		return w.Flush()
	},
}

var analyticsReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review gate scores and fix attempt distribution",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, since, cleanup, err := openAnalytics(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := analytics.QueryReviewStats(e.db, since)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(out, stats)
		}
		fmt.Fprintf(out, "Gated change requests: %d\n", stats.ChangeRequests)
		if stats.ChangeRequests == 0 {
			return nil
		}
		fmt.Fprintf(out, "Average first score:   %.1f\n", stats.AvgFirstScore)
		fmt.Fprintf(out, "Average final score:   %.1f\n", stats.AvgFinalScore)
		fmt.Fprintf(out, "Passed first time:     %.1f%%\n", stats.PassedFirstPct)
		attempts := make([]int, 0, len(stats.FixAttempts))
		for n := range stats.FixAttempts {
			attempts = append(attempts, n)
		}
		sort.Ints(attempts)
		fmt.Fprintln(out, "Fix attempts:")
		for _, n := range attempts {
			fmt.Fprintf(out, "  %d: %d\n", n, stats.FixAttempts[n])
		}
		return nil
	},
}

// openAnalytics opens the environment and requires the event log.
func openAnalytics(cmd *cobra.Command) (*env, string, func(), error) {
	window, _ := cmd.Flags().GetString("since")
	d, err := parseWindow(window)
	if err != nil {
		return nil, "", nil, err
	}
	e, cleanup, err := openEnv(cmd)
	if err != nil {
		return nil, "", nil, err
	}
	if e.db == nil {
		cleanup()
		return nil, "", nil, errors.New("analytics need the event log; check the db section of the config")
	}
	return e, analytics.Since(d, time.Now()), cleanup, nil
}

// parseWindow accepts Go durations plus a day suffix, e.g. "7d".
func parseWindow(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid --since %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid --since %q", s)
	}
	return d, nil
}

func ms(v float64) string {
	return time.Duration(v * float64(time.Millisecond)).Round(time.Millisecond).String()
}

func init() {
	for _, c := range []*cobra.Command{analyticsStageDurationCmd, analyticsOutcomesCmd, analyticsCheckFailuresCmd, analyticsReviewCmd} {
		c.Flags().String("since", "", "only include events in this window (e.g. 24h, 7d)")
		c.Flags().Bool("json", false, "output as JSON")
		analyticsCmd.AddCommand(c)
	}
}
