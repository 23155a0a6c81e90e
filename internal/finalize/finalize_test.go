package finalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lucasnoah/skillctl/internal/checks"
	"github.com/lucasnoah/skillctl/internal/git"
	"github.com/lucasnoah/skillctl/internal/github"
	"github.com/lucasnoah/skillctl/internal/pipeline"
	"github.com/lucasnoah/skillctl/internal/review"
)

const treeOID = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// fakeGit answers git subcommands from simple state.
type fakeGit struct {
	branch    string
	dirty     bool
	conflicts []string
	fail      map[string]error
	commits   int
	calls     []string
}

func (g *fakeGit) Run(dir string, args ...string) (string, error) {
	g.calls = append(g.calls, strings.Join(args, " "))
	if err, ok := g.fail[args[0]]; ok {
		return "", err
	}
	switch args[0] {
	case "rev-parse":
		if args[1] == "--abbrev-ref" {
			return g.branch, nil
		}
		return fmt.Sprintf("%040d", g.commits), nil
	case "status":
		if g.dirty {
			return " M skills/review/SKILL.md", nil
		}
		return "", nil
	case "commit":
		g.commits++
	case "merge-tree":
		if len(g.conflicts) > 0 {
			return treeOID + "\n" + strings.Join(g.conflicts, "\n"), errors.New("exit status 1")
		}
		return treeOID, nil
	}
	return "", nil
}

func (g *fakeGit) ran(prefix string) int {
	n := 0
	for _, c := range g.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// fakeGH answers gh commands.
type fakeGH struct {
	existing string
	mergeOut string
	mergeErr error
	calls    []string
}

func (g *fakeGH) Run(args ...string) (string, error) {
	call := strings.Join(args, " ")
	g.calls = append(g.calls, call)
	switch {
	case strings.HasPrefix(call, "pr list"):
		if g.existing != "" {
			return g.existing, nil
		}
		return "[]", nil
	case strings.HasPrefix(call, "pr create"):
		return "https://github.com/org/skills/pull/42", nil
	case strings.HasPrefix(call, "pr merge"):
		return g.mergeOut, g.mergeErr
	}
	return "", nil
}

func (g *fakeGH) ran(prefix string) bool {
	for _, c := range g.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// fakeCmds returns queued exit codes per command; 0 once the queue is empty.
type fakeCmds struct {
	exits map[string][]int
	calls []string
}

func (f *fakeCmds) Run(_ context.Context, _ string, command string) (string, string, int, error) {
	f.calls = append(f.calls, command)
	q := f.exits[command]
	if len(q) == 0 {
		return "ok", "", 0, nil
	}
	f.exits[command] = q[1:]
	return "", "boom", q[0], nil
}

type memEvents struct {
	checks map[string]int
	cycles []review.Cycle
}

func (m *memEvents) LogCheckRuns(_ string, phase string, results []*checks.Result) error {
	m.checks[phase] += len(results)
	return nil
}

func (m *memEvents) LogReviewCycles(_ string, _ string, cycles []review.Cycle) error {
	m.cycles = append(m.cycles, cycles...)
	return nil
}

type fakeHost struct {
	reviews []review.Review
}

func (h *fakeHost) ChangedFiles(context.Context, string) ([]string, error) { return nil, nil }
func (h *fakeHost) Reviews(context.Context, string) ([]review.Review, error) {
	return h.reviews, nil
}
func (h *fakeHost) Comments(context.Context, string) ([]review.Comment, error) {
	return []review.Comment{{Author: "bot", Body: "rename this", Path: "skills/a.md", Line: 3}}, nil
}

type fakeFixer struct {
	err   error
	calls int
	after func()
}

func (f *fakeFixer) Fix(context.Context, review.FixRequest) error {
	f.calls++
	if f.after != nil {
		f.after()
	}
	return f.err
}

type harness struct {
	git    *fakeGit
	gh     *fakeGH
	cmds   *fakeCmds
	events *memEvents
	dir    string
	clock  time.Time
	opts   Options
}

func newHarness(t *testing.T, branch string) *harness {
	t.Helper()
	h := &harness{
		git:    &fakeGit{branch: branch, dirty: true},
		gh:     &fakeGH{},
		cmds:   &fakeCmds{exits: map[string][]int{}},
		events: &memEvents{checks: map[string]int{}},
		dir:    t.TempDir(),
		clock:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.opts = Options{
		Repo:          git.NewRepo(h.git, h.dir, "main", "origin"),
		GitHub:        github.NewClient(h.gh),
		Checks:        checks.NewRunner(h.cmds),
		Lint:          []checks.CheckConfig{{Name: "markdownlint", Command: "markdownlint ."}},
		Build:         []checks.CheckConfig{{Name: "bundle", Command: "make bundle"}},
		Policy:        review.DefaultPolicy(),
		MergeStrategy: "squash",
		DeleteBranch:  true,
		TitlePrefix:   "Session: ",
		SessionLog:    filepath.Join(h.dir, "SESSION_LOG.md"),
		Message:       "Tighten review skill",
		EventLog:      h.events,
		Logger:        zaptest.NewLogger(t),
		Now:           func() time.Time { return h.clock },
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.clock = h.clock.Add(d)
			return ctx.Err()
		},
	}
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context) *Summary {
	t.Helper()
	c, err := New(h.opts)
	require.NoError(t, err)
	s, err := c.Run(ctx)
	require.NoError(t, err)
	return s
}

func TestFinalize_TrunkSkipsChangeRequest(t *testing.T) {
	h := newHarness(t, "main")
	s := h.run(t, context.Background())

	assert.Equal(t, StateTrunkDone, s.Terminal)
	assert.Equal(t, pipeline.StatusSucceeded, s.Status)
	assert.False(t, s.Failed())
	assert.Equal(t, "passed", s.LintStatus)
	assert.Equal(t, "passed", s.BuildStatus)
	assert.Equal(t, "origin/main", s.PushTarget)
	assert.NotEmpty(t, s.CommitHash)
	assert.Empty(t, s.ChangeRequest)
	assert.Nil(t, s.Gate)
	assert.Empty(t, h.gh.calls, "trunk finalize must not touch change requests")
	assert.Equal(t, 1, h.git.ran("push -u origin main"))

	data, err := os.ReadFile(h.opts.SessionLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), "(main)")
	assert.Contains(t, string(data), "Tighten review skill")
	assert.Equal(t, 1, h.events.checks["lint"])
	assert.Equal(t, 1, h.events.checks["build"])
}

func TestFinalize_LintFailureNeverCommits(t *testing.T) {
	h := newHarness(t, "feature/x")
	h.cmds.exits["markdownlint ."] = []int{1}
	s := h.run(t, context.Background())

	assert.Equal(t, StateFailFast, s.Terminal)
	assert.True(t, s.Failed())
	assert.Equal(t, StateLinting, s.FailedStage)
	assert.Equal(t, "LintFailure", s.Failure)
	assert.Contains(t, s.Error, "markdownlint")
	assert.Equal(t, "failed", s.LintStatus)
	assert.Equal(t, statusNotRun, s.BuildStatus)
	assert.Zero(t, h.git.ran("commit"))
	assert.Zero(t, h.git.ran("push"))
	assert.NotContains(t, h.cmds.calls, "make bundle")
}

func TestFinalize_BuildFailureNeverCommits(t *testing.T) {
	h := newHarness(t, "main")
	h.cmds.exits["make bundle"] = []int{2}
	s := h.run(t, context.Background())

	assert.Equal(t, StateFailFast, s.Terminal)
	assert.Equal(t, "BuildFailure", s.Failure)
	assert.Equal(t, "passed", s.LintStatus)
	assert.Equal(t, "failed", s.BuildStatus)
	assert.Zero(t, h.git.ran("commit"))
}

func TestFinalize_AutoFixedLintContinues(t *testing.T) {
	h := newHarness(t, "main")
	h.opts.Lint[0].AutoFix = true
	h.opts.Lint[0].FixCommand = "markdownlint --fix ."
	h.cmds.exits["markdownlint ."] = []int{1, 0}
	s := h.run(t, context.Background())

	assert.Equal(t, StateTrunkDone, s.Terminal)
	require.NotNil(t, s.Lint)
	assert.True(t, s.Lint.Checks[0].AutoFixed)
	assert.Contains(t, h.cmds.calls, "markdownlint --fix .")
}

// stageLog captures stage results as a pipeline.Recorder.
type stageLog struct{ results []pipeline.StageResult }

func (l *stageLog) RecordStage(_ *pipeline.Run, res pipeline.StageResult) {
	l.results = append(l.results, res)
}
func (l *stageLog) RecordFinish(*pipeline.Run) {}

func TestFinalize_NoChanges(t *testing.T) {
	h := newHarness(t, "feature/x")
	h.git.dirty = false
	h.opts.SessionLog = ""
	stages := &stageLog{}
	h.opts.Recorders = append(h.opts.Recorders, stages)
	s := h.run(t, context.Background())

	assert.Equal(t, StateNoChanges, s.Terminal)
	assert.Equal(t, pipeline.StatusSucceeded, s.Status)
	require.NotEmpty(t, stages.results)
	last := stages.results[len(stages.results)-1]
	assert.Equal(t, StateCommitting, last.Stage)
	assert.Equal(t, pipeline.OutcomeSoftFail, last.Outcome)
	assert.Equal(t, "working tree clean", last.Detail)
	assert.Empty(t, last.Error)
	assert.Zero(t, h.git.ran("commit"))
	assert.Empty(t, h.gh.calls)
}

func TestFinalize_FeatureBranchWithoutReviewerMerges(t *testing.T) {
	h := newHarness(t, "feature/x")
	s := h.run(t, context.Background())

	assert.Equal(t, StateMerged, s.Terminal, "error: %s", s.Error)
	assert.Equal(t, "https://github.com/org/skills/pull/42", s.ChangeRequest)
	require.NotNil(t, s.Gate)
	assert.Equal(t, review.AutoMergeNoReview, s.Gate.Kind)
	assert.True(t, h.gh.ran("pr create --title Session: Tighten review skill"))
	assert.True(t, h.gh.ran("pr merge 42 --squash --delete-branch"))
	assert.Equal(t, 1, h.git.ran("checkout main"))
	assert.Equal(t, 1, h.git.ran("branch -D feature/x"))
}

func TestFinalize_ReusesOpenChangeRequest(t *testing.T) {
	h := newHarness(t, "feature/x")
	h.gh.existing = `[{"number":7,"url":"https://github.com/org/skills/pull/7","state":"OPEN","headRefName":"feature/x","baseRefName":"main"}]`
	s := h.run(t, context.Background())

	assert.Equal(t, StateMerged, s.Terminal)
	assert.Equal(t, "https://github.com/org/skills/pull/7", s.ChangeRequest)
	assert.False(t, h.gh.ran("pr create"))
	assert.True(t, h.gh.ran("pr merge 7"))
}

func TestFinalize_MergeConflictReportsPaths(t *testing.T) {
	h := newHarness(t, "feature/x")
	h.git.conflicts = []string{"skills/review/SKILL.md", "commands/ship.md"}
	s := h.run(t, context.Background())

	assert.Equal(t, StateMergeConflict, s.Terminal)
	assert.True(t, s.Failed())
	assert.Equal(t, "MergeConflict", s.Failure)
	assert.Equal(t, []string{"skills/review/SKILL.md", "commands/ship.md"}, s.Conflicts)
	assert.Contains(t, s.Error, "commands/ship.md")
	assert.False(t, h.gh.ran("pr merge"), "conflicts are never force-resolved")
}

func TestFinalize_HostRejectsConflictingMerge(t *testing.T) {
	h := newHarness(t, "feature/x")
	h.gh.mergeOut = "Pull request is not mergeable: the merge commit cannot be cleanly created"
	h.gh.mergeErr = errors.New("exit status 1")
	s := h.run(t, context.Background())

	assert.Equal(t, StateMergeConflict, s.Terminal)
	assert.Equal(t, "MergeConflict", s.Failure)
}

func TestFinalize_MergeFailure(t *testing.T) {
	h := newHarness(t, "feature/x")
	h.gh.mergeErr = errors.New("HTTP 502")
	s := h.run(t, context.Background())

	assert.Equal(t, StateMergeFailed, s.Terminal)
	assert.True(t, s.Failed())
}

func TestFinalize_PushFailure(t *testing.T) {
	h := newHarness(t, "feature/x")
	h.git.fail = map[string]error{"push": errors.New("rejected")}
	s := h.run(t, context.Background())

	assert.Equal(t, StatePushFailed, s.Terminal)
	assert.NotEmpty(t, s.CommitHash)
	assert.Empty(t, h.gh.calls)
}

func TestFinalize_DetachedHeadFails(t *testing.T) {
	h := newHarness(t, "HEAD")
	s := h.run(t, context.Background())

	assert.Equal(t, StateFailFast, s.Terminal)
	assert.Equal(t, StateLogging, s.FailedStage)
}

func TestFinalize_SessionLogFailureIsSoft(t *testing.T) {
	h := newHarness(t, "main")
	blocker := filepath.Join(h.dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	h.opts.SessionLog = filepath.Join(blocker, "SESSION_LOG.md")
	s := h.run(t, context.Background())

	assert.Equal(t, StateTrunkDone, s.Terminal)
	require.Len(t, s.Warnings, 1)
	assert.Contains(t, s.Warnings[0], "session log")
}

func reviewerHarness(t *testing.T) (*harness, *fakeHost, *fakeFixer) {
	h := newHarness(t, "feature/x")
	host := &fakeHost{}
	fixer := &fakeFixer{}
	h.opts.Host = host
	h.opts.Fixer = fixer
	h.opts.Policy.Reviewer = "greptile-apps"
	return h, host, fixer
}

func TestFinalize_ReviewFixCycleThenMerge(t *testing.T) {
	h, host, fixer := reviewerHarness(t)
	host.reviews = []review.Review{{Author: "greptile-apps", Body: "Confidence Score: 3/5", SubmittedAt: h.clock.Add(time.Minute)}}
	fixer.after = func() {
		host.reviews = append(host.reviews, review.Review{
			Author: "greptile-apps", Body: "Confidence Score: 5/5", SubmittedAt: h.clock.Add(10 * time.Minute),
		})
	}
	s := h.run(t, context.Background())

	assert.Equal(t, StateMerged, s.Terminal, "error: %s", s.Error)
	require.NotNil(t, s.Gate)
	assert.Equal(t, "passed_after_fixes(5, 1)", s.Gate.String())
	assert.Equal(t, 1, fixer.calls)
	assert.Equal(t, 2, h.git.ran("commit"))
	assert.Equal(t, 2, h.git.ran("push -u origin feature/x"))
	assert.Equal(t, 1, h.events.checks["lint-fix-1"])
	assert.Equal(t, 1, h.events.checks["build-fix-1"])
	assert.Len(t, h.events.cycles, 2)
	assert.True(t, h.gh.ran("pr merge 42"))
}

func TestFinalize_RepublishLintFailureKeepsChangeRequestOpen(t *testing.T) {
	h, host, _ := reviewerHarness(t)
	host.reviews = []review.Review{{Author: "greptile-apps", Body: "Confidence Score: 2/5", SubmittedAt: h.clock.Add(time.Minute)}}
	h.cmds.exits["markdownlint ."] = []int{0, 1}
	s := h.run(t, context.Background())

	assert.Equal(t, StateFailFast, s.Terminal)
	assert.Equal(t, StateReviewGating, s.FailedStage)
	assert.Equal(t, "LintFailure", s.Failure)
	assert.Equal(t, 1, h.git.ran("push"), "failing fix must not be pushed")
	assert.False(t, h.gh.ran("pr merge"))
}

func TestFinalize_FixerFailureKeepsChangeRequestOpen(t *testing.T) {
	h, host, fixer := reviewerHarness(t)
	host.reviews = []review.Review{{Author: "greptile-apps", Body: "Confidence Score: 2/5", SubmittedAt: h.clock.Add(time.Minute)}}
	fixer.err = errors.New("assistant crashed")
	s := h.run(t, context.Background())

	assert.Equal(t, StateFailFast, s.Terminal)
	assert.Contains(t, s.Error, "assistant crashed")
	assert.False(t, h.gh.ran("pr merge"))
}

func TestFinalize_ReviewTimeoutMergesWithWarning(t *testing.T) {
	h, _, _ := reviewerHarness(t)
	s := h.run(t, context.Background())

	assert.Equal(t, StateMergedWithWarns, s.Terminal)
	assert.Equal(t, review.FallbackMerged, s.Gate.Kind)
	require.NotEmpty(t, s.Warnings)
	assert.Contains(t, s.Warnings[0], "review timeout")
	assert.True(t, h.gh.ran("pr merge 42"))
}

func TestFinalize_CancelDuringReviewLeavesChangeRequestOpen(t *testing.T) {
	h, _, _ := reviewerHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.opts.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	s := h.run(t, ctx)

	assert.Equal(t, StateCancelled, s.Terminal)
	assert.Equal(t, pipeline.StatusAborted, s.Status)
	assert.False(t, s.Failed())
	assert.Equal(t, "https://github.com/org/skills/pull/42", s.ChangeRequest)
	assert.False(t, h.gh.ran("pr merge"))
}

func TestNewRequiresFixerForReviewer(t *testing.T) {
	h := newHarness(t, "feature/x")
	h.opts.Policy.Reviewer = "greptile-apps"
	_, err := New(h.opts)
	assert.Error(t, err)
}

func TestSummaryJSON(t *testing.T) {
	s := &Summary{RunID: "r1", LintStatus: "passed", BuildStatus: "skipped", Terminal: StateTrunkDone}
	out, err := s.JSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"lint_status": "passed"`)
	assert.Contains(t, out, `"terminal": "trunk_done"`)
}

func TestDefinitionIsValid(t *testing.T) {
	require.NoError(t, Definition.Validate())
}
