package checks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// mockCmd records calls and returns configured results.
type mockCmd struct {
	calls   []mockCall
	results []mockResult
	callIdx int
}

type mockCall struct {
	Dir     string
	Command string
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (m *mockCmd) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	m.calls = append(m.calls, mockCall{Dir: dir, Command: command})
	if m.callIdx >= len(m.results) {
		return "", "", 0, nil
	}
	r := m.results[m.callIdx]
	m.callIdx++
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

func TestRunner_Run_HappyPath(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "all good", ExitCode: 0},
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:    "markdownlint",
		Command: "markdownlint skills/",
		Timeout: 30 * time.Second,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passed=true, got false")
	}
	if result.CheckName != "markdownlint" {
		t.Errorf("expected check_name=markdownlint, got %q", result.CheckName)
	}
	if result.Summary != "passed (exit code 0)" {
		t.Errorf("unexpected summary %q", result.Summary)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.calls))
	}
	if mock.calls[0].Dir != "/tmp/test" {
		t.Errorf("expected dir=/tmp/test, got %q", mock.calls[0].Dir)
	}
	if mock.calls[0].Command != "markdownlint skills/" {
		t.Errorf("unexpected command %q", mock.calls[0].Command)
	}
}

func TestRunner_Run_FailedCheckKeepsOutputTail(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "checking...", Stderr: "skills/go/SKILL.md:3 MD001", ExitCode: 1},
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{Name: "lint", Command: "make lint"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Errorf("expected passed=false, got true")
	}
	if result.ExitCode != 1 {
		t.Errorf("expected exit_code=1, got %d", result.ExitCode)
	}
	if result.Findings != "checking...\nskills/go/SKILL.md:3 MD001" {
		t.Errorf("unexpected findings %q", result.Findings)
	}
}

func TestRunner_Run_TruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("x", maxOutputLen+100) + "END"
	mock := &mockCmd{results: []mockResult{{Stdout: long, ExitCode: 2}}}

	result, err := NewRunner(mock).Run(context.Background(), "/tmp", CheckConfig{Name: "build", Command: "make"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(result.Findings, "…(truncated)") || !strings.HasSuffix(result.Findings, "END") {
		t.Errorf("expected truncated tail, got %d bytes", len(result.Findings))
	}
}

func TestRunner_Run_AutoFix(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "errors found", ExitCode: 1}, // initial run
			{Stdout: "fixed", ExitCode: 1},        // fix command, exit code ignored
			{Stdout: "all good", ExitCode: 0},     // re-run
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:       "lint",
		Command:    "make lint",
		AutoFix:    true,
		FixCommand: "make fmt",
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passed=true after fix, got false")
	}
	if !result.AutoFixed {
		t.Errorf("expected auto_fixed=true")
	}
	if len(mock.calls) != 3 {
		t.Fatalf("expected 3 calls (run, fix, re-run), got %d", len(mock.calls))
	}
	if mock.calls[1].Command != "make fmt" {
		t.Errorf("expected fix command, got %q", mock.calls[1].Command)
	}
}

func TestRunner_Run_AutoFixStillFails(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{ExitCode: 1}, // initial run
			{ExitCode: 0}, // fix command
			{ExitCode: 1}, // re-run still fails
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:       "lint",
		Command:    "make lint",
		AutoFix:    true,
		FixCommand: "make fmt",
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Errorf("expected passed=false even after fix attempt")
	}
	if !result.AutoFixed {
		t.Errorf("expected auto_fixed=true (fix was attempted)")
	}
}

func TestRunner_Run_NoAutoFixWhenPassing(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{ExitCode: 0},
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:       "lint",
		Command:    "make lint",
		AutoFix:    true,
		FixCommand: "make fmt",
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passed=true")
	}
	if len(mock.calls) != 1 {
		t.Errorf("expected 1 call (no fix needed), got %d", len(mock.calls))
	}
}

func TestRunner_Run_CommandError(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Err: fmt.Errorf("exec: \"sh\": executable file not found")},
		},
	}
	runner := NewRunner(mock)

	_, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{Name: "lint", Command: "make lint"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// deadlineCmd blocks until its context ends.
type deadlineCmd struct{}

func (deadlineCmd) Run(ctx context.Context, _, _ string) (string, string, int, error) {
	<-ctx.Done()
	return "partial output", "", -1, ctx.Err()
}

func TestRunner_Run_TimeoutIsFailedResult(t *testing.T) {
	result, err := NewRunner(deadlineCmd{}).Run(context.Background(), "/tmp", CheckConfig{
		Name:    "build",
		Command: "sleep 60",
		Timeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("timeout should not be an error: %v", err)
	}
	if result.Passed || result.ExitCode != -1 {
		t.Errorf("expected failed result, got %+v", result)
	}
	if !strings.Contains(result.Summary, "timeout") {
		t.Errorf("unexpected summary %q", result.Summary)
	}
}

func TestRunner_Run_CancelledContextIsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRunner(deadlineCmd{}).Run(ctx, "/tmp", CheckConfig{Name: "build", Command: "sleep 60"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExecRunner(t *testing.T) {
	r := &ExecRunner{}
	stdout, stderr, code, err := r.Run(context.Background(), t.TempDir(), "echo out; echo err >&2; exit 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 3 || strings.TrimSpace(stdout) != "out" || strings.TrimSpace(stderr) != "err" {
		t.Errorf("got code=%d stdout=%q stderr=%q", code, stdout, stderr)
	}
}
