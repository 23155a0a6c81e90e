package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/skillctl/internal/checks"
	"github.com/lucasnoah/skillctl/internal/finalize"
	"github.com/lucasnoah/skillctl/internal/git"
	"github.com/lucasnoah/skillctl/internal/github"
	"github.com/lucasnoah/skillctl/internal/pipeline"
	"github.com/lucasnoah/skillctl/internal/prompt"
	"github.com/lucasnoah/skillctl/internal/review"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Log, lint, build, commit and ship the current session",
	Long: `Appends a session entry, runs the lint and build checks, commits and pushes.
On trunk that is the end. On any other branch a change request is opened,
gated on the configured automated reviewer (with bounded fix attempts) and
merged. Lint or build failures stop the run before anything is committed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")
		asJSON, _ := cmd.Flags().GetBool("json")

		e, cleanup, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		opts, err := finalizeOptions(cmd, e, message)
		if err != nil {
			return err
		}
		ctl, err := finalize.New(opts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		s, err := ctl.Run(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			text, err := s.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, text)
		} else {
			printSummary(out, s)
		}
		if s.Failed() {
			return fmt.Errorf("finalize failed at %s", s.FailedStage)
		}
		return nil
	},
}

func finalizeOptions(cmd *cobra.Command, e *env, message string) (finalize.Options, error) {
	cfg := e.cfg
	lint, err := cfg.CheckConfigs(cfg.Finalize.Lint)
	if err != nil {
		return finalize.Options{}, err
	}
	build, err := cfg.CheckConfigs(cfg.Finalize.Build)
	if err != nil {
		return finalize.Options{}, err
	}
	policy, err := cfg.ReviewPolicy()
	if err != nil {
		return finalize.Options{}, err
	}
	scorer, err := review.NewScorer(cfg.Review.ScorePattern)
	if err != nil {
		return finalize.Options{}, err
	}
	sessionTmpl, err := prompt.Load(prompt.SessionEntry, cfg.TemplatesDir())
	if err != nil {
		return finalize.Options{}, err
	}
	crTmpl, err := prompt.Load(prompt.ChangeRequest, cfg.TemplatesDir())
	if err != nil {
		return finalize.Options{}, err
	}

	root := cfg.ProjectRoot()
	repo := git.NewRepo(&git.ExecGit{}, root, cfg.Project.Trunk, cfg.Project.Remote)
	opts := finalize.Options{
		Repo:                  repo,
		GitHub:                github.NewClient(&github.ExecRunner{Dir: root}),
		Checks:                checks.NewRunner(&checks.ExecRunner{}),
		Lint:                  lint,
		Build:                 build,
		Scorer:                scorer,
		Policy:                policy,
		MergeStrategy:         cfg.Finalize.MergeStrategy,
		DeleteBranch:          cfg.DeleteBranchAfterMerge(),
		TitlePrefix:           cfg.Finalize.TitlePrefix,
		SessionLog:            cfg.SessionLogPath(),
		Message:               message,
		SessionTemplate:       sessionTmpl,
		ChangeRequestTemplate: crTmpl,
		Logger:                e.logger,
		Recorders:             e.recorders(),
	}
	if e.db != nil {
		opts.EventLog = e.db
	}

	if policy.Reviewer != "" {
		fixTmpl, err := prompt.Load(prompt.FixReview, cfg.TemplatesDir())
		if err != nil {
			return finalize.Options{}, err
		}
		branch, _ := repo.CurrentBranch()
		opts.Fixer = &review.ExecFixer{
			Command:  cfg.Review.FixCommand,
			Dir:      root,
			Branch:   branch,
			Template: fixTmpl,
			Output:   cmd.ErrOrStderr(),
		}
	}
	return opts, nil
}

func printSummary(out io.Writer, s *finalize.Summary) {
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(out, "%-16s %s\n", label+":", value)
		}
	}
	row("Branch", s.Branch)
	row("Lint", colorizeCheck(s.LintStatus))
	row("Build", colorizeCheck(s.BuildStatus))
	row("Commit", shortSHA(s.CommitHash))
	row("Pushed", s.PushTarget)
	row("Change request", s.ChangeRequest)
	if s.Gate != nil {
		row("Review", s.Gate.String())
	}

	result := string(s.Terminal)
	switch {
	case s.Failed():
		result = failColor.Sprint(result)
	case len(s.Warnings) > 0 || s.Status != pipeline.StatusSucceeded:
		result = warnColor.Sprint(result)
	default:
		result = okColor.Sprint(result)
	}
	row("Result", result)

	if s.Failed() {
		msg := s.Error
		if s.Failure != "" {
			msg = fmt.Sprintf("[%s] %s", s.Failure, msg)
		}
		row("Failed at", string(s.FailedStage))
		row("Error", msg)
	}
	if len(s.Conflicts) > 0 {
		fmt.Fprintln(out, failColor.Sprint("Conflicting paths:"))
		for _, p := range s.Conflicts {
			fmt.Fprintf(out, "  %s\n", p)
		}
	}
	if len(s.Warnings) > 0 {
		fmt.Fprintln(out, warnColor.Sprint("Warnings:"))
		for _, w := range s.Warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

func init() {
	finalizeCmd.Flags().StringP("message", "m", "", "session message (commit message and change request title)")
	finalizeCmd.Flags().Bool("json", false, "output the summary as JSON")
}
