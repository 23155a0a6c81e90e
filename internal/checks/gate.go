package checks

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// GateCheckResult holds the result of a single check within a gate run.
type GateCheckResult struct {
	Check     string `json:"check"`
	Passed    bool   `json:"passed"`
	AutoFixed bool   `json:"auto_fixed,omitempty"`
	Runs      int    `json:"runs"`
	Summary   string `json:"summary,omitempty"`
}

// GateResult is the structured output of running one phase (lint or build).
type GateResult struct {
	Phase             string            `json:"phase"`
	Passed            bool              `json:"passed"`
	Checks            []GateCheckResult `json:"checks"`
	RemainingFailures map[string]string `json:"remaining_failures,omitempty"`
}

// Status is "passed", "failed" or "skipped" (no checks configured).
func (g *GateResult) Status() string {
	switch {
	case len(g.Checks) == 0:
		return "skipped"
	case g.Passed:
		return "passed"
	default:
		return "failed"
	}
}

// Err returns nil when the gate passed, otherwise an error wrapping sentinel
// that names the failing checks.
func (g *GateResult) Err(sentinel error) error {
	if g.Passed {
		return nil
	}
	names := make([]string, 0, len(g.RemainingFailures))
	for name := range g.RemainingFailures {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s (%s)", n, g.RemainingFailures[n]))
	}
	return fmt.Errorf("%w: %s", sentinel, strings.Join(parts, "; "))
}

// GateOpts configures a gate run.
type GateOpts struct {
	Phase    string
	Checks   []CheckConfig
	Continue bool // run all checks even if some fail
}

// RunGate executes the checks of one phase in order and stops at the first
// failure unless opts.Continue is set. Each check result is also returned
// individually for the event log.
func (r *Runner) RunGate(ctx context.Context, dir string, opts GateOpts) (*GateResult, []*Result, error) {
	gate := &GateResult{
		Phase:             opts.Phase,
		Passed:            true,
		RemainingFailures: make(map[string]string),
	}

	var allResults []*Result
	for _, chk := range opts.Checks {
		result, err := r.Run(ctx, dir, chk)
		if err != nil {
			return nil, allResults, fmt.Errorf("run check %q: %w", chk.Name, err)
		}
		allResults = append(allResults, result)

		runs := 1
		if result.AutoFixed {
			runs = 2
		}
		gate.Checks = append(gate.Checks, GateCheckResult{
			Check:     chk.Name,
			Passed:    result.Passed,
			AutoFixed: result.AutoFixed,
			Runs:      runs,
			Summary:   result.Summary,
		})

		if !result.Passed {
			gate.Passed = false
			gate.RemainingFailures[chk.Name] = result.Summary
			if !opts.Continue {
				break
			}
		}
	}
	return gate, allResults, nil
}
