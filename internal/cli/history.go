package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/skillctl/internal/pipeline"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent pipeline runs",
	Long: `Lists recent update and finalize runs from the run store. With --events the
stage-by-stage history of one run is printed instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		kind, _ := cmd.Flags().GetString("kind")
		runID, _ := cmd.Flags().GetString("events")

		e, cleanup, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if runID != "" {
			return printRunEvents(cmd, e, runID)
		}

		out := cmd.OutOrStdout()
		if e.db != nil && kind == "" {
			records, err := e.db.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(records) > 0 {
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "RUN\tPIPELINE\tSTATUS\tSTAGE\tSTARTED\tFINISHED")
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Pipeline,
						colorizeStatus(pipeline.Status(r.Status)), r.Stage, r.StartedAt, orDash(r.FinishedAt))
				}
				return w.Flush()
			}
		}

		runs, err := e.store.List(pipeline.Kind(kind))
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded.")
			return nil
		}
		if limit > 0 && len(runs) > limit {
			runs = runs[:limit]
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tPIPELINE\tSTATUS\tSTAGE\tSTARTED\tDURATION")
		for _, r := range runs {
			duration := "-"
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Kind, colorizeStatus(r.Status), r.CurrentStage,
				r.StartedAt.Local().Format(time.DateTime), duration)
		}
		return w.Flush()
	},
}

// printRunEvents prints one run's stage history, preferring the event log.
func printRunEvents(cmd *cobra.Command, e *env, runID string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tNEXT\tOUTCOME\tDURATION\tDETAIL")

	if e.db != nil {
		events, err := e.db.GetRunEvents(runID)
		if err != nil {
			return err
		}
		if len(events) > 0 {
			for _, ev := range events {
				detail := ev.Detail
				if ev.Error != "" {
					detail = ev.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%s\n", ev.Stage, ev.Next, ev.Outcome, ev.DurationMs, detail)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return printRunDetails(cmd, e, runID)
		}
	}

	run, err := e.store.Get(runID)
	if err != nil {
		return err
	}
	for _, h := range run.StageHistory {
		detail := h.Detail
		if h.Error != "" {
			detail = h.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", h.Stage, h.Next, h.Outcome, h.Duration, detail)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// printRunDetails prints the check runs and review cycles of a finalize run.
func printRunDetails(cmd *cobra.Command, e *env, runID string) error {
	out := cmd.OutOrStdout()
	runs, err := e.db.GetCheckRuns(runID)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		fmt.Fprintln(out, "\nChecks:")
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, c := range runs {
			status := colorizeCheck("passed")
			if !c.Passed {
				status = colorizeCheck("failed")
			}
			if c.AutoFixed {
				status += " (auto-fixed)"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", c.Phase, c.CheckName, status, c.Summary)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	cycles, err := e.db.GetReviewCycles(runID)
	if err != nil {
		return err
	}
	if len(cycles) > 0 {
		fmt.Fprintln(out, "\nReview cycles:")
		for _, c := range cycles {
			fmt.Fprintf(out, "  attempt %d: score %g / threshold %g, %d comments\n", c.Attempt, c.Score, c.Threshold, c.Comments)
		}
	}
	return nil
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "maximum number of runs to list")
	historyCmd.Flags().String("kind", "", "only list runs of this pipeline (update or finalize)")
	historyCmd.Flags().String("events", "", "print the stage history of this run ID")
}
