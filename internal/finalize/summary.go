package finalize

import (
	"encoding/json"

	"github.com/lucasnoah/skillctl/internal/checks"
	"github.com/lucasnoah/skillctl/internal/pipeline"
	"github.com/lucasnoah/skillctl/internal/review"
)

const (
	statusNotRun = "not_run"
	statusFailed = "failed"
)

// Summary is the structured report of a finalize run.
type Summary struct {
	RunID         string             `json:"run_id"`
	Branch        string             `json:"branch,omitempty"`
	LintStatus    string             `json:"lint_status"`
	BuildStatus   string             `json:"build_status"`
	CommitHash    string             `json:"commit_hash,omitempty"`
	PushTarget    string             `json:"push_target,omitempty"`
	ChangeRequest string             `json:"change_request,omitempty"`
	Gate          *review.Result     `json:"gate,omitempty"`
	Conflicts     []string           `json:"conflicts,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
	Terminal      pipeline.State     `json:"terminal"`
	Status        pipeline.Status    `json:"status"`
	FailedStage   pipeline.State     `json:"failed_stage,omitempty"`
	Failure       string             `json:"failure,omitempty"`
	Error         string             `json:"error,omitempty"`
	Lint          *checks.GateResult `json:"lint,omitempty"`
	Build         *checks.GateResult `json:"build,omitempty"`
}

func (s *Summary) finish(run *pipeline.Run) {
	s.Terminal = run.CurrentStage
	s.Status = run.Status
	if f := run.LastFailure(); f != nil {
		s.FailedStage, s.Failure, s.Error = f.Stage, f.Failure, f.Error
	}
}

// Failed reports whether the run ended in a hard failure. A cancelled run
// is not a failure: the change request is left open for later.
func (s *Summary) Failed() bool {
	return s.Status == pipeline.StatusFailed
}

// JSON returns the summary as indented JSON.
func (s *Summary) JSON() (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
