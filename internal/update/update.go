// Package update drives the self-update pipeline: check the remote
// manifest, confirm, snapshot the system files, fetch and verify the
// release, apply it and verify the result. A failure after the snapshot
// restores it before the run ends.
package update

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lucasnoah/skillctl/internal/backup"
	"github.com/lucasnoah/skillctl/internal/failure"
	"github.com/lucasnoah/skillctl/internal/fetch"
	"github.com/lucasnoah/skillctl/internal/pipeline"
	"github.com/lucasnoah/skillctl/internal/tree"
	"github.com/lucasnoah/skillctl/internal/version"
)

// Pipeline states.
const (
	StateIdle           pipeline.State = "idle"
	StateChecking       pipeline.State = "checking"
	StateCheckFailed    pipeline.State = "check_failed"
	StateUpToDate       pipeline.State = "up_to_date"
	StateConfirming     pipeline.State = "confirming"
	StateAborted        pipeline.State = "aborted"
	StateBackingUp      pipeline.State = "backing_up"
	StateFailedPreApply pipeline.State = "failed_pre_apply"
	StateFetching       pipeline.State = "fetching"
	StateFailedFetch    pipeline.State = "failed_fetch"
	StateApplying       pipeline.State = "applying"
	StateVerifying      pipeline.State = "verifying"
	StateSucceeded      pipeline.State = "succeeded"
	StateRollingBack    pipeline.State = "rolling_back"
	StateRolledBack     pipeline.State = "rolled_back"
	StateRollbackFailed pipeline.State = "rollback_failed"
)

// Definition is the update pipeline's state table.
var Definition = pipeline.Definition{
	Kind:    pipeline.KindUpdate,
	Initial: StateIdle,
	Transitions: map[pipeline.State][]pipeline.State{
		StateIdle:        {StateChecking, StateCheckFailed},
		StateChecking:    {StateUpToDate, StateConfirming, StateCheckFailed},
		StateConfirming:  {StateAborted, StateBackingUp},
		StateBackingUp:   {StateFailedPreApply, StateFetching},
		StateFetching:    {StateFailedFetch, StateApplying},
		StateApplying:    {StateVerifying, StateRollingBack},
		StateVerifying:   {StateSucceeded, StateRollingBack},
		StateRollingBack: {StateRolledBack, StateRollbackFailed},
	},
	Terminal: map[pipeline.State]pipeline.Status{
		StateCheckFailed:    pipeline.StatusFailed,
		StateUpToDate:       pipeline.StatusSucceeded,
		StateAborted:        pipeline.StatusAborted,
		StateFailedPreApply: pipeline.StatusFailed,
		StateFailedFetch:    pipeline.StatusFailed,
		StateSucceeded:      pipeline.StatusSucceeded,
		StateRolledBack:     pipeline.StatusRolledBack,
		StateRollbackFailed: pipeline.StatusFailed,
	},
}

// Confirmer asks the user whether to proceed.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// ArchiveFetcher retrieves and verifies a release archive.
type ArchiveFetcher interface {
	FetchArchive(ctx context.Context, endpoint string, want *version.Manifest) (*fetch.Archive, error)
}

// Applier writes a release into the managed tree.
type Applier interface {
	Apply(releaseDir string) (*tree.Result, error)
}

// Options wires the controller's collaborators.
type Options struct {
	Resolver  *version.Resolver
	Fetcher   ArchiveFetcher
	Backups   *backup.Manager
	Applier   Applier
	Partition *tree.Partition
	// ManagedRoot is checked for unclassified entries before anything runs.
	ManagedRoot string
	// ArchiveURL overrides the manifest's source location when set.
	ArchiveURL string
	Confirmer  Confirmer
	// AssumeYes skips confirmation.
	AssumeYes bool
	Logger    *zap.Logger
	Recorders []pipeline.Recorder
}

// Report is the user-visible outcome of an update run.
type Report struct {
	RunID    string          `json:"run_id"`
	Terminal pipeline.State  `json:"terminal"`
	Status   pipeline.Status `json:"status"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	// FailedStage is the stage that hard-failed first, if any.
	FailedStage pipeline.State `json:"failed_stage,omitempty"`
	Failure     string         `json:"failure,omitempty"`
	Error       string         `json:"error,omitempty"`
	RolledBack  bool           `json:"rolled_back"`
	// BackupTag names the snapshot taken before applying, for manual restore.
	BackupTag string        `json:"backup_tag,omitempty"`
	Applied   *tree.Result  `json:"applied,omitempty"`
	Run       *pipeline.Run `json:"-"`
}

// Failed reports whether the run ended in a hard failure.
func (r *Report) Failed() bool {
	return r.Status == pipeline.StatusFailed || r.Status == pipeline.StatusRolledBack
}

// Controller runs the update pipeline once.
type Controller struct {
	opts   Options
	logger *zap.Logger

	// per-run state, set by the stages
	local   version.Version
	check   *version.CheckResult
	snap    *backup.Backup
	archive *fetch.Archive
	applied *tree.Result
}

// New creates a Controller.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Controller{opts: opts, logger: opts.Logger}
}

// Run executes the pipeline to a terminal state. The error is non-nil only
// when the pipeline itself is misconfigured.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	m := pipeline.NewMachine(Definition, c.logger, c.opts.Recorders...)
	m.Handle(StateIdle, c.idle)
	m.Handle(StateChecking, c.checking)
	m.Handle(StateConfirming, c.confirming)
	m.Handle(StateBackingUp, c.backingUp)
	m.Handle(StateFetching, c.fetching)
	m.Handle(StateApplying, c.applying)
	m.Handle(StateVerifying, c.verifying)
	m.Handle(StateRollingBack, c.rollingBack)

	run := m.NewRun()
	defer func() {
		if err := c.archive.Close(); err != nil {
			c.logger.Warn("remove staging dir", zap.Error(err))
		}
	}()
	if err := m.Execute(ctx, run); err != nil {
		return nil, err
	}
	return c.report(run), nil
}

func (c *Controller) report(run *pipeline.Run) *Report {
	r := &Report{
		RunID:      run.ID,
		Terminal:   run.CurrentStage,
		Status:     run.Status,
		RolledBack: run.CurrentStage == StateRolledBack,
		Applied:    c.applied,
		Run:        run,
	}
	if c.check != nil {
		r.From = c.check.Local.String()
		if c.check.Remote != nil {
			r.To = c.check.Remote.Version.String()
		}
	}
	if c.snap != nil {
		r.BackupTag = c.snap.Name()
	}
	for _, h := range run.StageHistory {
		if h.Outcome == pipeline.OutcomeHardFail {
			r.FailedStage, r.Failure, r.Error = h.Stage, h.Failure, h.Error
			break
		}
	}
	return r
}

func (c *Controller) idle(ctx context.Context) pipeline.Transition {
	if err := c.opts.Partition.CheckComplete(tree.OSFS{}, c.opts.ManagedRoot); err != nil {
		return pipeline.Hard(StateCheckFailed, err)
	}
	return pipeline.Advance(StateChecking, c.opts.ManagedRoot)
}

func (c *Controller) checking(ctx context.Context) pipeline.Transition {
	res, err := c.opts.Resolver.Check(ctx)
	if err != nil {
		return pipeline.Hard(StateCheckFailed, err)
	}
	c.check = res
	c.local = res.Local

	switch res.Status {
	case version.StatusUnknown:
		// A passive check tolerates this; an update cannot proceed without a target.
		return pipeline.Hard(StateCheckFailed, fmt.Errorf("%w: %s", failure.ErrNetwork, res.Reason))
	case version.StatusUpToDate:
		return pipeline.Advance(StateUpToDate, fmt.Sprintf("%s is up to date", res.Local))
	}
	return pipeline.Advance(StateConfirming, fmt.Sprintf("%s -> %s", res.Local, res.Remote.Version))
}

func (c *Controller) confirming(ctx context.Context) pipeline.Transition {
	if c.opts.AssumeYes {
		return pipeline.Advance(StateBackingUp, "confirmed by flag")
	}
	if c.opts.Confirmer == nil {
		return pipeline.Advance(StateAborted, "no confirmation available")
	}
	q := fmt.Sprintf("Update from %s to %s?", c.local, c.check.Remote.Version)
	ok, err := c.opts.Confirmer.Confirm(ctx, q)
	if err != nil {
		return pipeline.Soft(StateAborted, fmt.Errorf("confirm: %w", err))
	}
	if !ok {
		return pipeline.Advance(StateAborted, "declined")
	}
	return pipeline.Advance(StateBackingUp, "confirmed")
}

func (c *Controller) backingUp(ctx context.Context) pipeline.Transition {
	snap, err := c.opts.Backups.Snapshot(c.local, c.opts.Partition.System())
	if err != nil {
		return pipeline.Hard(StateFailedPreApply, err)
	}
	c.snap = snap
	return pipeline.Advance(StateFetching, "backup "+snap.Name())
}

func (c *Controller) fetching(ctx context.Context) pipeline.Transition {
	archive, err := c.opts.Fetcher.FetchArchive(ctx, c.opts.ArchiveURL, c.check.Remote)
	if err != nil {
		return pipeline.Hard(StateFailedFetch, err)
	}
	c.archive = archive
	return pipeline.Advance(StateApplying, "release "+archive.Manifest.Version.String())
}

func (c *Controller) applying(ctx context.Context) pipeline.Transition {
	if err := ctx.Err(); err != nil {
		return pipeline.Hard(StateRollingBack, err)
	}
	res, err := c.opts.Applier.Apply(c.archive.Dir)
	c.applied = res
	if err != nil {
		return pipeline.Hard(StateRollingBack, err)
	}
	return pipeline.Advance(StateVerifying, fmt.Sprintf("%d replaced, %d removed", len(res.Replaced), len(res.Removed)))
}

func (c *Controller) verifying(ctx context.Context) pipeline.Transition {
	local, err := c.opts.Resolver.Local()
	if err != nil {
		return pipeline.Hard(StateRollingBack, fmt.Errorf("%w: %w", failure.ErrVerification, err))
	}
	want := c.check.Remote.Version
	if version.Compare(local.Version, want) != 0 {
		return pipeline.Hard(StateRollingBack,
			fmt.Errorf("%w: manifest reports %s after applying %s", failure.ErrVerification, local.Version, want))
	}
	if err := c.opts.Partition.CheckComplete(tree.OSFS{}, c.opts.ManagedRoot); err != nil {
		return pipeline.Hard(StateRollingBack, fmt.Errorf("%w: %w", failure.ErrVerification, err))
	}
	return pipeline.Advance(StateSucceeded, "now at "+local.Version.String())
}

func (c *Controller) rollingBack(ctx context.Context) pipeline.Transition {
	if c.snap == nil {
		return pipeline.Hard(StateRollbackFailed, fmt.Errorf("%w: no snapshot for this run", failure.ErrBackupNotFound))
	}
	if err := c.opts.Backups.RestoreBackup(c.snap); err != nil {
		return pipeline.Hard(StateRollbackFailed, fmt.Errorf("restore %s: %w", c.snap.Name(), err))
	}
	return pipeline.Advance(StateRolledBack, "restored "+c.snap.Name())
}
