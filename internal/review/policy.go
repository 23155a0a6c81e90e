// Package review implements the review gate: it waits for an automated
// reviewer's confidence score on a change request and drives a bounded
// fix/re-publish loop until the score clears the threshold, the reviewer
// stays silent past the poll timeout, or the attempts run out.
//
// The gate only decides. Merging is left to the caller.
package review

import (
	"fmt"
	"time"
)

// Policy defaults.
const (
	DefaultThreshold    = 4.0
	DefaultMaxAttempts  = 3
	DefaultPollInterval = 30 * time.Second
	DefaultPollTimeout  = 10 * time.Minute
)

// Policy configures one gate run.
type Policy struct {
	// Reviewer is the login of the review bot. Empty disables the gate.
	Reviewer     string
	Threshold    float64
	MaxAttempts  int
	PollInterval time.Duration
	PollTimeout  time.Duration
	// MaxFiles is the reviewer's per-request file limit; 0 means no limit.
	MaxFiles int
}

// DefaultPolicy returns a policy with every numeric field at its default and
// no reviewer.
func DefaultPolicy() Policy {
	return Policy{}.withDefaults()
}

func (p Policy) withDefaults() Policy {
	if p.Threshold <= 0 {
		p.Threshold = DefaultThreshold
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.PollTimeout <= 0 {
		p.PollTimeout = DefaultPollTimeout
	}
	return p
}

// Kind is the gate verdict.
type Kind string

const (
	PassedDirectly    Kind = "passed_directly"
	PassedAfterFixes  Kind = "passed_after_fixes"
	FallbackMerged    Kind = "fallback_merged"
	AutoMergeNoReview Kind = "auto_merge_no_review"
)

// Cycle records one scored review.
type Cycle struct {
	Attempt   int     `json:"attempt"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Comments  int     `json:"comments"`
}

// Result is the outcome of a gate run. Every Kind permits a merge.
type Result struct {
	Kind     Kind     `json:"kind"`
	Score    float64  `json:"score,omitempty"`
	Attempts int      `json:"attempts"`
	Warnings []string `json:"warnings,omitempty"`
	Cycles   []Cycle  `json:"cycles,omitempty"`
}

func (r *Result) warn(err error) {
	r.Warnings = append(r.Warnings, err.Error())
}

// String renders the verdict the way the summary prints it, e.g.
// "passed_after_fixes(5, 1)".
func (r *Result) String() string {
	switch r.Kind {
	case PassedDirectly:
		return fmt.Sprintf("%s(%s)", r.Kind, formatScore(r.Score))
	case PassedAfterFixes:
		return fmt.Sprintf("%s(%s, %d)", r.Kind, formatScore(r.Score), r.Attempts)
	default:
		return string(r.Kind)
	}
}
