// Package checks runs the configured lint and build commands for the finalize
// pipeline. A check is an opaque shell command: exit code 0 passes. A failing
// check with auto-fix enabled runs its fix command once and is re-checked.
package checks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout applies to checks without their own timeout.
const DefaultTimeout = 2 * time.Minute

// maxOutputLen caps how much output a failed check keeps in Findings.
const maxOutputLen = 8000

// Result holds the outcome of one check.
type Result struct {
	CheckName  string `json:"check_name"`
	Passed     bool   `json:"passed"`
	AutoFixed  bool   `json:"auto_fixed"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int    `json:"duration_ms"`
	Summary    string `json:"summary"`
	Findings   string `json:"findings,omitempty"`
}

// CheckConfig mirrors config.Check with the fields the runner needs.
type CheckConfig struct {
	Name       string
	Command    string
	Timeout    time.Duration
	AutoFix    bool
	FixCommand string
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes checks.
type Runner struct {
	cmd CommandRunner
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	return &Runner{cmd: cmd}
}

// Run executes a single check in dir. A timed-out check is a failed result,
// not an error; errors mean the command could not be started or ctx ended.
func (r *Runner) Run(ctx context.Context, dir string, cfg CheckConfig) (*Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	result, err := r.runOnce(ctx, dir, cfg, timeout)
	if err != nil {
		return nil, err
	}
	if result.Passed || !cfg.AutoFix || cfg.FixCommand == "" {
		return result, nil
	}

	fixCtx, cancel := context.WithTimeout(ctx, timeout)
	// Fix commands often exit non-zero even when they fixed something.
	_, _, _, _ = r.cmd.Run(fixCtx, dir, cfg.FixCommand)
	cancel()

	recheck, err := r.runOnce(ctx, dir, cfg, timeout)
	if err != nil {
		return nil, fmt.Errorf("re-run after fix: %w", err)
	}
	recheck.AutoFixed = true
	return recheck, nil
}

func (r *Runner) runOnce(ctx context.Context, dir string, cfg CheckConfig, timeout time.Duration) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(runCtx, dir, cfg.Command)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return &Result{
				CheckName:  cfg.Name,
				ExitCode:   -1,
				DurationMs: durationMs,
				Summary:    fmt.Sprintf("timeout after %s", timeout),
				Findings:   tail(stdout, stderr),
			}, nil
		}
		return nil, fmt.Errorf("run check %q: %w", cfg.Name, err)
	}

	res := &Result{
		CheckName:  cfg.Name,
		Passed:     exitCode == 0,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    "passed (exit code 0)",
	}
	if !res.Passed {
		res.Summary = fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr))
		res.Findings = tail(stdout, stderr)
	}
	return res, nil
}

// tail joins stdout and stderr and keeps the end, where error summaries
// usually are.
func tail(stdout, stderr string) string {
	combined := stdout
	if stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += stderr
	}
	if len(combined) > maxOutputLen {
		combined = "…(truncated)\n" + combined[len(combined)-maxOutputLen:]
	}
	return combined
}
