// Package finalize drives the end-of-session pipeline: log the session,
// lint, build, commit and push, then (off trunk) open a change request, gate
// it on review, merge it and clean up. Lint or build failures stop the run
// before anything is committed.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/skillctl/internal/checks"
	"github.com/lucasnoah/skillctl/internal/failure"
	"github.com/lucasnoah/skillctl/internal/git"
	"github.com/lucasnoah/skillctl/internal/github"
	"github.com/lucasnoah/skillctl/internal/pipeline"
	"github.com/lucasnoah/skillctl/internal/prompt"
	"github.com/lucasnoah/skillctl/internal/review"
)

// Pipeline states.
const (
	StateLogging         pipeline.State = "logging"
	StateLinting         pipeline.State = "linting"
	StateBuilding        pipeline.State = "building"
	StateFailFast        pipeline.State = "fail_fast"
	StateCommitting      pipeline.State = "committing"
	StateNoChanges       pipeline.State = "no_changes"
	StatePushing         pipeline.State = "pushing"
	StatePushFailed      pipeline.State = "push_failed"
	StateTrunkDone       pipeline.State = "trunk_done"
	StateOpeningCR       pipeline.State = "opening_change_request"
	StateCRFailed        pipeline.State = "cr_failed"
	StateReviewGating    pipeline.State = "review_gating"
	StateCancelled       pipeline.State = "cancelled"
	StateMerging         pipeline.State = "merging"
	StateMergeConflict   pipeline.State = "merge_conflict"
	StateMergeFailed     pipeline.State = "merge_failed"
	StateCleaningUp      pipeline.State = "cleaning_up"
	StateMerged          pipeline.State = "merged"
	StateMergedWithWarns pipeline.State = "merged_with_warning"
)

// Definition is the finalize pipeline's state table.
var Definition = pipeline.Definition{
	Kind:    pipeline.KindFinalize,
	Initial: StateLogging,
	Transitions: map[pipeline.State][]pipeline.State{
		StateLogging:      {StateLinting, StateFailFast},
		StateLinting:      {StateBuilding, StateFailFast},
		StateBuilding:     {StateCommitting, StateFailFast},
		StateCommitting:   {StatePushing, StateNoChanges, StateFailFast},
		StatePushing:      {StateTrunkDone, StateOpeningCR, StatePushFailed},
		StateOpeningCR:    {StateReviewGating, StateCRFailed},
		StateReviewGating: {StateMerging, StateFailFast, StateCancelled},
		StateMerging:      {StateCleaningUp, StateMergeConflict, StateMergeFailed},
		StateCleaningUp:   {StateMerged, StateMergedWithWarns},
	},
	Terminal: map[pipeline.State]pipeline.Status{
		StateFailFast:        pipeline.StatusFailed,
		StateNoChanges:       pipeline.StatusSucceeded,
		StatePushFailed:      pipeline.StatusFailed,
		StateTrunkDone:       pipeline.StatusSucceeded,
		StateCRFailed:        pipeline.StatusFailed,
		StateCancelled:       pipeline.StatusAborted,
		StateMergeConflict:   pipeline.StatusFailed,
		StateMergeFailed:     pipeline.StatusFailed,
		StateMerged:          pipeline.StatusSucceeded,
		StateMergedWithWarns: pipeline.StatusSucceeded,
	},
}

// DefaultMessage is used when no session message is given.
const DefaultMessage = "Finalize session"

// EventLog receives check and review records. *db.DB implements it.
type EventLog interface {
	LogCheckRuns(runID, phase string, results []*checks.Result) error
	LogReviewCycles(runID, changeRequest string, cycles []review.Cycle) error
}

// Options wires the controller's collaborators and settings.
type Options struct {
	Repo   *git.Repo
	GitHub *github.Client
	Checks *checks.Runner
	Lint   []checks.CheckConfig
	Build  []checks.CheckConfig

	// Review gate collaborators. Host defaults to the GitHub client.
	Host   review.Host
	Fixer  review.Fixer
	Scorer *review.Scorer
	Policy review.Policy

	MergeStrategy string
	DeleteBranch  bool
	TitlePrefix   string
	// SessionLog is the file session entries are appended to; empty disables it.
	SessionLog string
	// Message describes the session; it becomes the commit message and
	// change request title.
	Message string

	SessionTemplate       prompt.Template
	ChangeRequestTemplate prompt.Template

	EventLog  EventLog
	Logger    *zap.Logger
	Recorders []pipeline.Recorder

	// Now and Sleep override the clock (for testing).
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Controller runs the finalize pipeline once.
type Controller struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time
	gate   *review.Gate

	run      *pipeline.Run
	branch   string
	pr       *github.PR
	pushedAt time.Time
	summary  *Summary
}

// New creates a Controller.
func New(opts Options) (*Controller, error) {
	if opts.Repo == nil || opts.Checks == nil {
		return nil, errors.New("finalize: repo and check runner are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if strings.TrimSpace(opts.Message) == "" {
		opts.Message = DefaultMessage
	}
	if opts.MergeStrategy == "" {
		opts.MergeStrategy = "squash"
	}
	var err error
	if opts.SessionTemplate.Source == "" {
		if opts.SessionTemplate, err = prompt.Builtin(prompt.SessionEntry); err != nil {
			return nil, err
		}
	}
	if opts.ChangeRequestTemplate.Source == "" {
		if opts.ChangeRequestTemplate, err = prompt.Builtin(prompt.ChangeRequest); err != nil {
			return nil, err
		}
	}
	if opts.Host == nil && opts.GitHub != nil {
		opts.Host = review.NewGitHubHost(opts.GitHub)
	}
	if opts.Policy.Reviewer != "" && (opts.Host == nil || opts.Fixer == nil) {
		return nil, errors.New("finalize: a reviewer needs a review host and a fixer")
	}

	c := &Controller{opts: opts, logger: opts.Logger, now: time.Now}
	if opts.Now != nil {
		c.now = opts.Now
	}
	c.gate = review.NewGate(opts.Host, opts.Fixer, c, opts.Scorer, opts.Logger)
	c.gate.SetClock(opts.Now, opts.Sleep)
	return c, nil
}

// Run executes the pipeline to a terminal state. The error is non-nil only
// when the pipeline itself is misconfigured.
func (c *Controller) Run(ctx context.Context) (*Summary, error) {
	m := pipeline.NewMachine(Definition, c.logger, c.opts.Recorders...)
	m.Handle(StateLogging, c.logging)
	m.Handle(StateLinting, c.linting)
	m.Handle(StateBuilding, c.building)
	m.Handle(StateCommitting, c.committing)
	m.Handle(StatePushing, c.pushing)
	m.Handle(StateOpeningCR, c.openingCR)
	m.Handle(StateReviewGating, c.reviewGating)
	m.Handle(StateMerging, c.merging)
	m.Handle(StateCleaningUp, c.cleaningUp)

	c.run = m.NewRun()
	c.summary = &Summary{
		RunID:       c.run.ID,
		LintStatus:  statusNotRun,
		BuildStatus: statusNotRun,
	}
	if err := m.Execute(ctx, c.run); err != nil {
		return nil, err
	}
	c.summary.finish(c.run)
	return c.summary, nil
}

func (c *Controller) warn(msg string, err error) {
	c.logger.Warn(msg, zap.String("run_id", c.run.ID), zap.Error(err))
	c.summary.Warnings = append(c.summary.Warnings, fmt.Sprintf("%s: %v", msg, err))
}

func (c *Controller) logging(ctx context.Context) pipeline.Transition {
	branch, err := c.opts.Repo.CurrentBranch()
	if err != nil {
		return pipeline.Hard(StateFailFast, err)
	}
	c.branch = branch
	c.summary.Branch = branch

	if c.opts.SessionLog == "" {
		return pipeline.Advance(StateLinting, "session log disabled")
	}
	if err := c.appendSessionEntry(); err != nil {
		c.warn("session log not updated", err)
		return pipeline.Soft(StateLinting, err)
	}
	return pipeline.Advance(StateLinting, "appended to "+c.opts.SessionLog)
}

func (c *Controller) appendSessionEntry() error {
	entry, err := c.opts.SessionTemplate.Render(prompt.Vars{
		"timestamp": c.now().UTC().Format(time.RFC3339),
		"branch":    c.branch,
		"message":   c.opts.Message,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.opts.SessionLog), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(c.opts.SessionLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		entry = "\n" + entry
	}
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// runPhase runs one check phase and records its results. Lint reports every
// failing linter; build stops at the first failure.
func (c *Controller) runPhase(ctx context.Context, phase string, cfgs []checks.CheckConfig, sentinel error) (*checks.GateResult, error) {
	opts := checks.GateOpts{Phase: phase, Checks: cfgs, Continue: strings.HasPrefix(phase, "lint")}
	gate, results, err := c.opts.Checks.RunGate(ctx, c.opts.Repo.Dir(), opts)
	if c.opts.EventLog != nil && len(results) > 0 {
		if lerr := c.opts.EventLog.LogCheckRuns(c.run.ID, phase, results); lerr != nil {
			c.logger.Warn("event log", zap.String("run_id", c.run.ID), zap.Error(lerr))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sentinel, err)
	}
	return gate, gate.Err(sentinel)
}

func (c *Controller) linting(ctx context.Context) pipeline.Transition {
	gate, err := c.runPhase(ctx, "lint", c.opts.Lint, failure.ErrLint)
	if gate != nil {
		c.summary.LintStatus = gate.Status()
		c.summary.Lint = gate
	} else {
		c.summary.LintStatus = statusFailed
	}
	if err != nil {
		return pipeline.Hard(StateFailFast, err)
	}
	return pipeline.Advance(StateBuilding, c.summary.LintStatus)
}

func (c *Controller) building(ctx context.Context) pipeline.Transition {
	gate, err := c.runPhase(ctx, "build", c.opts.Build, failure.ErrBuild)
	if gate != nil {
		c.summary.BuildStatus = gate.Status()
		c.summary.Build = gate
	} else {
		c.summary.BuildStatus = statusFailed
	}
	if err != nil {
		return pipeline.Hard(StateFailFast, err)
	}
	return pipeline.Advance(StateCommitting, c.summary.BuildStatus)
}

func (c *Controller) committing(ctx context.Context) pipeline.Transition {
	changed, err := c.opts.Repo.HasChanges()
	if err != nil {
		return pipeline.Hard(StateFailFast, err)
	}
	if !changed {
		return pipeline.Transition{Next: StateNoChanges, Outcome: pipeline.OutcomeSoftFail, Detail: "working tree clean"}
	}
	sha, err := c.opts.Repo.CommitAll(c.opts.Message)
	if err != nil {
		return pipeline.Hard(StateFailFast, err)
	}
	c.summary.CommitHash = sha
	return pipeline.Advance(StatePushing, sha)
}

func (c *Controller) pushing(ctx context.Context) pipeline.Transition {
	if err := c.opts.Repo.Push(c.branch); err != nil {
		return pipeline.Hard(StatePushFailed, err)
	}
	c.pushedAt = c.now()
	c.summary.PushTarget = c.opts.Repo.Remote() + "/" + c.branch
	if c.opts.Repo.IsTrunk(c.branch) {
		return pipeline.Advance(StateTrunkDone, "pushed to trunk, no change request")
	}
	return pipeline.Advance(StateOpeningCR, c.summary.PushTarget)
}

func (c *Controller) openingCR(ctx context.Context) pipeline.Transition {
	if c.opts.GitHub == nil {
		return pipeline.Hard(StateCRFailed, errors.New("no change request host configured"))
	}
	pr, err := c.opts.GitHub.FindPRByBranch(c.branch)
	if err != nil {
		return pipeline.Hard(StateCRFailed, err)
	}
	if pr != nil {
		c.pr = pr
		c.summary.ChangeRequest = pr.URL
		return pipeline.Advance(StateReviewGating, "reusing "+pr.URL)
	}

	body, err := c.opts.ChangeRequestTemplate.Render(c.changeRequestVars())
	if err != nil {
		return pipeline.Hard(StateCRFailed, err)
	}
	pr, err = c.opts.GitHub.CreatePR(github.PRCreateOpts{
		Title:  c.opts.TitlePrefix + firstLine(c.opts.Message),
		Body:   body,
		Branch: c.branch,
		Base:   c.opts.Repo.Trunk(),
	})
	if err != nil {
		return pipeline.Hard(StateCRFailed, err)
	}
	c.pr = pr
	c.summary.ChangeRequest = pr.URL
	return pipeline.Advance(StateReviewGating, "opened "+pr.URL)
}

func (c *Controller) changeRequestVars() prompt.Vars {
	vars := prompt.Vars{
		"message":      c.opts.Message,
		"lint_status":  c.summary.LintStatus,
		"build_status": c.summary.BuildStatus,
	}
	if c.opts.SessionLog != "" {
		rel, err := filepath.Rel(c.opts.Repo.Dir(), c.opts.SessionLog)
		if err != nil {
			rel = filepath.Base(c.opts.SessionLog)
		}
		vars["session_log"] = filepath.ToSlash(rel)
	}
	return vars
}

func (c *Controller) reviewGating(ctx context.Context) pipeline.Transition {
	res, err := c.gate.Run(ctx, review.Request{Ref: c.pr.Ref(), PushedAt: c.pushedAt}, c.opts.Policy)
	if res != nil {
		c.summary.Gate = res
		c.summary.Warnings = append(c.summary.Warnings, res.Warnings...)
		if c.opts.EventLog != nil && len(res.Cycles) > 0 {
			if lerr := c.opts.EventLog.LogReviewCycles(c.run.ID, c.pr.Ref(), res.Cycles); lerr != nil {
				c.logger.Warn("event log", zap.String("run_id", c.run.ID), zap.Error(lerr))
			}
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.Hard(StateCancelled, err)
		}
		return pipeline.Hard(StateFailFast, err)
	}
	return pipeline.Advance(StateMerging, res.String())
}

// Republish implements review.Republisher: after a fix, the tree must pass
// lint and build again before it is committed and pushed.
func (c *Controller) Republish(ctx context.Context, attempt int) error {
	lint, err := c.runPhase(ctx, fmt.Sprintf("lint-fix-%d", attempt), c.opts.Lint, failure.ErrLint)
	if lint != nil {
		c.summary.LintStatus = lint.Status()
	}
	if err != nil {
		return err
	}
	build, err := c.runPhase(ctx, fmt.Sprintf("build-fix-%d", attempt), c.opts.Build, failure.ErrBuild)
	if build != nil {
		c.summary.BuildStatus = build.Status()
	}
	if err != nil {
		return err
	}

	changed, err := c.opts.Repo.HasChanges()
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("fix attempt %d changed nothing", attempt)
	}
	sha, err := c.opts.Repo.CommitAll(fmt.Sprintf("Address review feedback (attempt %d)", attempt))
	if err != nil {
		return err
	}
	if err := c.opts.Repo.Push(c.branch); err != nil {
		return err
	}
	c.summary.CommitHash = sha
	c.pushedAt = c.now()
	c.logger.Info("fix published", zap.String("run_id", c.run.ID), zap.Int("attempt", attempt), zap.String("commit", sha))
	return nil
}

func (c *Controller) merging(ctx context.Context) pipeline.Transition {
	if err := c.opts.Repo.Fetch(); err != nil {
		c.warn("conflict pre-check skipped", err)
	} else if paths, err := c.opts.Repo.ConflictingPaths(c.branch); err != nil {
		c.warn("conflict pre-check skipped", err)
	} else if len(paths) > 0 {
		return c.conflict(paths, nil)
	}

	err := c.opts.GitHub.MergePR(c.pr.Ref(), c.opts.MergeStrategy, c.opts.DeleteBranch)
	if err != nil {
		if errors.Is(err, failure.ErrMergeConflict) {
			paths, _ := c.opts.Repo.ConflictingPaths(c.branch)
			return c.conflict(paths, err)
		}
		return pipeline.Hard(StateMergeFailed, err)
	}
	return pipeline.Advance(StateCleaningUp, "merged "+c.pr.Ref())
}

func (c *Controller) conflict(paths []string, cause error) pipeline.Transition {
	c.summary.Conflicts = paths
	err := fmt.Errorf("%w: %s into %s", failure.ErrMergeConflict, c.branch, c.opts.Repo.Trunk())
	if len(paths) > 0 {
		err = fmt.Errorf("%w: %s", err, strings.Join(paths, ", "))
	}
	if cause != nil {
		err = fmt.Errorf("%w (%v)", err, cause)
	}
	return pipeline.Hard(StateMergeConflict, err)
}

func (c *Controller) cleaningUp(ctx context.Context) pipeline.Transition {
	if err := c.opts.Repo.Checkout(c.opts.Repo.Trunk()); err != nil {
		c.warn("cleanup", err)
	} else if err := c.opts.Repo.Pull(); err != nil {
		c.warn("cleanup", err)
	}
	if c.opts.DeleteBranch {
		// gh may already have removed it.
		if err := c.opts.Repo.DeleteBranch(c.branch); err != nil {
			c.logger.Debug("local branch not deleted", zap.String("branch", c.branch), zap.Error(err))
		}
	}
	if len(c.summary.Warnings) > 0 {
		return pipeline.Advance(StateMergedWithWarns, fmt.Sprintf("%d warnings", len(c.summary.Warnings)))
	}
	return pipeline.Advance(StateMerged, "")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
