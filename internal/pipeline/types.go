package pipeline

import "time"

// Kind names which pipeline a run belongs to.
type Kind string

const (
	KindUpdate   Kind = "update"
	KindFinalize Kind = "finalize"
)

// Status is the lifecycle status of a run.
type Status string

const (
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
	StatusAborted    Status = "aborted"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	return s != StatusRunning && s != ""
}

// State is a named pipeline stage.
type State string

// Outcome is how a single stage ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeSoftFail Outcome = "soft_fail"
	OutcomeHardFail Outcome = "hard_fail"
)

// StageResult records one executed stage.
type StageResult struct {
	Stage     State     `json:"stage"`
	Next      State     `json:"next"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	Failure   string    `json:"failure,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}

// Run is one invocation of one pipeline. Only Machine mutates it.
type Run struct {
	ID           string        `json:"id"`
	Kind         Kind          `json:"kind"`
	CurrentStage State         `json:"current_stage"`
	Status       Status        `json:"status"`
	StageHistory []StageResult `json:"stage_history"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// LastFailure returns the most recent hard-failed stage, if any.
func (r *Run) LastFailure() *StageResult {
	for i := len(r.StageHistory) - 1; i >= 0; i-- {
		if r.StageHistory[i].Outcome == OutcomeHardFail {
			return &r.StageHistory[i]
		}
	}
	return nil
}

// Visited reports whether the run executed stage s.
func (r *Run) Visited(s State) bool {
	for _, h := range r.StageHistory {
		if h.Stage == s {
			return true
		}
	}
	return false
}
