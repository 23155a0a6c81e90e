// Package failure defines the error taxonomy shared by the update and finalize
// pipelines. Components wrap one of the sentinels below so controllers can
// decide between continuing (soft) and aborting (hard) with errors.Is.
package failure

import "errors"

var (
	ErrNetwork           = errors.New("network failure")
	ErrMalformedVersion  = errors.New("malformed version")
	ErrVerification      = errors.New("verification failure")
	ErrBackupNotFound    = errors.New("backup not found")
	ErrPartialApply      = errors.New("partial apply failure")
	ErrLint              = errors.New("lint failure")
	ErrBuild             = errors.New("build failure")
	ErrReviewTimeout     = errors.New("review timeout")
	ErrThresholdUnmet    = errors.New("review threshold unmet")
	ErrFileLimitExceeded = errors.New("file limit exceeded")
	ErrMergeConflict     = errors.New("merge conflict")
)

// Severity says whether a failure stops the pipeline.
type Severity string

const (
	Soft Severity = "soft"
	Hard Severity = "hard"
)

var named = []struct {
	err      error
	name     string
	severity Severity
}{
	{ErrNetwork, "NetworkFailure", Hard},
	{ErrMalformedVersion, "MalformedVersion", Hard},
	{ErrVerification, "VerificationFailure", Hard},
	{ErrBackupNotFound, "BackupNotFound", Hard},
	{ErrPartialApply, "PartialApplyFailure", Hard},
	{ErrLint, "LintFailure", Hard},
	{ErrBuild, "BuildFailure", Hard},
	{ErrReviewTimeout, "ReviewTimeout", Soft},
	{ErrThresholdUnmet, "ReviewThresholdUnmet", Soft},
	{ErrFileLimitExceeded, "FileLimitExceeded", Soft},
	{ErrMergeConflict, "MergeConflict", Hard},
}

// Name returns the taxonomy name of err, or "" if err is not classified.
func Name(err error) string {
	for _, n := range named {
		if errors.Is(err, n.err) {
			return n.name
		}
	}
	return ""
}

// SeverityOf classifies err. Unclassified errors are hard.
//
// NetworkFailure is reported as hard here; the passive version check treats
// it as soft by catching it before it reaches a controller.
func SeverityOf(err error) Severity {
	for _, n := range named {
		if errors.Is(err, n.err) {
			return n.severity
		}
	}
	return Hard
}
