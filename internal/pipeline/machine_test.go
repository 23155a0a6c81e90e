package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lucasnoah/skillctl/internal/failure"
)

const (
	sA   State = "a"
	sB   State = "b"
	sOK  State = "ok"
	sBad State = "bad"
)

func testDef() Definition {
	return Definition{
		Kind:    KindUpdate,
		Initial: sA,
		Transitions: map[State][]State{
			sA: {sB, sBad},
			sB: {sOK, sBad},
		},
		Terminal: map[State]Status{
			sOK:  StatusSucceeded,
			sBad: StatusFailed,
		},
	}
}

type memRecorder struct {
	stages   []StageResult
	finished int
}

func (r *memRecorder) RecordStage(_ *Run, res StageResult) { r.stages = append(r.stages, res) }
func (r *memRecorder) RecordFinish(_ *Run)                 { r.finished++ }

func TestMachineHappyPath(t *testing.T) {
	rec := &memRecorder{}
	m := NewMachine(testDef(), nil, rec)
	m.Handle(sA, func(ctx context.Context) Transition { return Advance(sB, "went to b") })
	m.Handle(sB, func(ctx context.Context) Transition { return Advance(sOK, "") })

	run := m.NewRun()
	if run.ID == "" {
		t.Fatal("NewRun should assign an id")
	}
	if err := m.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != StatusSucceeded {
		t.Errorf("Status = %q, want succeeded", run.Status)
	}
	if run.CurrentStage != sOK {
		t.Errorf("CurrentStage = %q, want ok", run.CurrentStage)
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
	if len(run.StageHistory) != 2 {
		t.Fatalf("history has %d entries, want 2", len(run.StageHistory))
	}
	if run.StageHistory[0].Detail != "went to b" {
		t.Errorf("Detail = %q", run.StageHistory[0].Detail)
	}
	if len(rec.stages) != 2 || rec.finished != 1 {
		t.Errorf("recorder saw %d stages, %d finishes", len(rec.stages), rec.finished)
	}
}

func TestMachineHardFailureRecordsKind(t *testing.T) {
	m := NewMachine(testDef(), nil)
	m.Handle(sA, func(ctx context.Context) Transition {
		return Hard(sBad, fmt.Errorf("fetch: %w", failure.ErrNetwork))
	})
	m.Handle(sB, func(ctx context.Context) Transition { t.Fatal("b must not run"); return Transition{} })

	run := m.NewRun()
	if err := m.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", run.Status)
	}
	last := run.LastFailure()
	if last == nil {
		t.Fatal("LastFailure = nil")
	}
	if last.Failure != "NetworkFailure" {
		t.Errorf("Failure = %q, want NetworkFailure", last.Failure)
	}
	if last.Severity != "hard" {
		t.Errorf("Severity = %q, want hard", last.Severity)
	}
	if !strings.Contains(last.Error, "fetch") {
		t.Errorf("Error = %q", last.Error)
	}
	if run.Visited(sB) {
		t.Error("run should not have visited b")
	}
}

func TestMachineRejectsUndeclaredTransition(t *testing.T) {
	m := NewMachine(testDef(), nil)
	m.Handle(sA, func(ctx context.Context) Transition { return Advance(sOK, "skip") })
	m.Handle(sB, func(ctx context.Context) Transition { return Advance(sOK, "") })

	run := m.NewRun()
	err := m.Execute(context.Background(), run)
	if err == nil || !strings.Contains(err.Error(), "illegal transition") {
		t.Fatalf("err = %v, want illegal transition", err)
	}
	if run.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", run.Status)
	}
}

func TestMachineMissingHandler(t *testing.T) {
	m := NewMachine(testDef(), nil)
	m.Handle(sA, func(ctx context.Context) Transition { return Advance(sB, "") })
	err := m.Execute(context.Background(), m.NewRun())
	if err == nil || !strings.Contains(err.Error(), "no handler") {
		t.Fatalf("err = %v, want missing handler", err)
	}
}

func TestDefinitionValidate(t *testing.T) {
	bad := testDef()
	bad.Transitions[sA] = append(bad.Transitions[sA], "nowhere")
	if err := bad.Validate(); err == nil {
		t.Error("expected error for undeclared target")
	}

	bad = testDef()
	bad.Transitions[sOK] = []State{sA}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for terminal with outgoing transitions")
	}

	bad = testDef()
	bad.Initial = "zzz"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for undeclared initial state")
	}

	if err := testDef().Validate(); err != nil {
		t.Errorf("valid definition: %v", err)
	}
}

func TestMachineCycleBounded(t *testing.T) {
	def := Definition{
		Kind:        KindFinalize,
		Initial:     sA,
		Transitions: map[State][]State{sA: {sB}, sB: {sA, sOK}},
		Terminal:    map[State]Status{sOK: StatusSucceeded},
	}
	m := NewMachine(def, nil)
	m.Handle(sA, func(ctx context.Context) Transition { return Advance(sB, "") })
	m.Handle(sB, func(ctx context.Context) Transition { return Advance(sA, "") })

	err := m.Execute(context.Background(), m.NewRun())
	if err == nil || !strings.Contains(err.Error(), "exceeded") {
		t.Fatalf("err = %v, want step bound error", err)
	}
}

func TestSoftOutcomeContinues(t *testing.T) {
	m := NewMachine(testDef(), nil)
	m.Handle(sA, func(ctx context.Context) Transition { return Soft(sB, errors.New("flaky")) })
	m.Handle(sB, func(ctx context.Context) Transition { return Advance(sOK, "") })

	run := m.NewRun()
	if err := m.Execute(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	if run.Status != StatusSucceeded {
		t.Errorf("Status = %q", run.Status)
	}
	if run.StageHistory[0].Outcome != OutcomeSoftFail {
		t.Errorf("Outcome = %q, want soft_fail", run.StageHistory[0].Outcome)
	}
	if run.LastFailure() != nil {
		t.Error("soft failure should not count as LastFailure")
	}
}
