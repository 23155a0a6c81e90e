package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasnoah/skillctl/internal/failure"
	applog "github.com/lucasnoah/skillctl/internal/log"
)

// maxSteps bounds a run in case a definition contains a cycle.
const maxSteps = 256

// Transition is what a stage handler returns: where to go next and how the
// stage ended.
type Transition struct {
	Next    State
	Outcome Outcome
	Detail  string
	Err     error
}

// Advance is a successful transition to next.
func Advance(next State, detail string) Transition {
	return Transition{Next: next, Outcome: OutcomeSuccess, Detail: detail}
}

// Soft is a soft-failed transition to next; the pipeline continues.
func Soft(next State, err error) Transition {
	return Transition{Next: next, Outcome: OutcomeSoftFail, Err: err}
}

// Hard is a hard-failed transition to next, normally a terminal or rollback state.
func Hard(next State, err error) Transition {
	return Transition{Next: next, Outcome: OutcomeHardFail, Err: err}
}

// Step executes one stage.
type Step func(ctx context.Context) Transition

// Recorder observes stage results and run completion.
type Recorder interface {
	RecordStage(run *Run, result StageResult)
	RecordFinish(run *Run)
}

// Definition is the static shape of a pipeline: its states, allowed
// transitions and terminal statuses.
type Definition struct {
	Kind        Kind
	Initial     State
	Transitions map[State][]State
	Terminal    map[State]Status
}

// Validate checks that every transition target is a known state and that
// terminal states have no outgoing transitions.
func (d Definition) Validate() error {
	known := func(s State) bool {
		_, t := d.Terminal[s]
		_, n := d.Transitions[s]
		return t || n
	}
	if !known(d.Initial) {
		return fmt.Errorf("%s pipeline: initial state %q is not declared", d.Kind, d.Initial)
	}
	for from, targets := range d.Transitions {
		if _, ok := d.Terminal[from]; ok {
			return fmt.Errorf("%s pipeline: terminal state %q has outgoing transitions", d.Kind, from)
		}
		for _, to := range targets {
			if !known(to) {
				return fmt.Errorf("%s pipeline: %q -> %q targets an undeclared state", d.Kind, from, to)
			}
		}
	}
	return nil
}

// Allowed reports whether from -> to is declared.
func (d Definition) Allowed(from, to State) bool {
	for _, t := range d.Transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Machine walks a Definition, running one handler per non-terminal state.
// Stages run strictly one after another.
type Machine struct {
	def       Definition
	steps     map[State]Step
	recorders []Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewMachine creates a Machine for def.
func NewMachine(def Definition, logger *zap.Logger, recorders ...Recorder) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		def:       def,
		steps:     make(map[State]Step),
		recorders: recorders,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle registers the handler for state s.
func (m *Machine) Handle(s State, step Step) {
	m.steps[s] = step
}

// Definition returns the machine's definition.
func (m *Machine) Definition() Definition {
	return m.def
}

// NewRun creates a run positioned at the initial state.
func (m *Machine) NewRun() *Run {
	return &Run{
		ID:           uuid.NewString(),
		Kind:         m.def.Kind,
		CurrentStage: m.def.Initial,
		Status:       StatusRunning,
		StageHistory: []StageResult{},
		StartedAt:    m.now().UTC(),
	}
}

// Execute drives run to a terminal state. The returned error is reserved for
// broken definitions; pipeline failures are reported through run.Status and
// run.StageHistory.
func (m *Machine) Execute(ctx context.Context, run *Run) error {
	if err := m.def.Validate(); err != nil {
		return err
	}
	for s := range m.def.Transitions {
		if _, ok := m.steps[s]; !ok {
			return fmt.Errorf("%s pipeline: no handler for state %q", m.def.Kind, s)
		}
	}

	log := applog.Run(m.logger, run.ID, string(run.Kind))

	for i := 0; ; i++ {
		if status, ok := m.def.Terminal[run.CurrentStage]; ok {
			m.finish(run, status)
			log.Info("pipeline finished", zap.String("state", string(run.CurrentStage)), zap.String("status", string(status)))
			return nil
		}
		if i >= maxSteps {
			m.finish(run, StatusFailed)
			return fmt.Errorf("%s pipeline: exceeded %d steps at %q", m.def.Kind, maxSteps, run.CurrentStage)
		}

		from := run.CurrentStage
		start := m.now()
		log.Debug("stage started", zap.String("stage", string(from)))
		tr := m.steps[from](ctx)

		if !m.def.Allowed(from, tr.Next) {
			m.finish(run, StatusFailed)
			return fmt.Errorf("%s pipeline: illegal transition %q -> %q", m.def.Kind, from, tr.Next)
		}

		result := StageResult{
			Stage:     from,
			Next:      tr.Next,
			Outcome:   tr.Outcome,
			Detail:    tr.Detail,
			StartedAt: start.UTC(),
			Duration:  m.now().Sub(start).Round(time.Millisecond).String(),
		}
		if result.Outcome == "" {
			result.Outcome = OutcomeSuccess
		}
		if tr.Err != nil {
			result.Error = tr.Err.Error()
			result.Failure = failure.Name(tr.Err)
			result.Severity = string(failure.SeverityOf(tr.Err))
		}
		run.StageHistory = append(run.StageHistory, result)
		run.CurrentStage = tr.Next

		fields := []zap.Field{
			zap.String("stage", string(from)),
			zap.String("next", string(tr.Next)),
			zap.String("outcome", string(result.Outcome)),
		}
		switch result.Outcome {
		case OutcomeHardFail:
			log.Error("stage failed", append(fields, zap.Error(tr.Err))...)
		case OutcomeSoftFail:
			log.Warn("stage soft-failed", append(fields, zap.String("detail", tr.Detail), zap.Error(tr.Err))...)
		default:
			log.Info("stage completed", append(fields, zap.String("detail", tr.Detail))...)
		}

		for _, r := range m.recorders {
			r.RecordStage(run, result)
		}
	}
}

func (m *Machine) finish(run *Run, status Status) {
	run.Status = status
	now := m.now().UTC()
	run.FinishedAt = &now
	for _, r := range m.recorders {
		r.RecordFinish(run)
	}
}
