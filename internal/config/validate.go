package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lucasnoah/skillctl/internal/github"
	"github.com/lucasnoah/skillctl/internal/review"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	recognizedDrivers = map[string]bool{"sqlite3": true, "pgx": true, "none": true}
	recognizedLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	recognizedFormats = map[string]bool{"console": true, "json": true}
	recognizedSchemes = map[string]bool{"": true, "file": true, "http": true, "https": true, "s3": true, "gs": true}
)

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := cfg.Partition(); err != nil {
		add("managed", "%v", err)
	}
	if rel, err := filepath.Rel(cfg.ManagedRoot(), cfg.BackupDir()); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		add("update.backup_dir", "must be outside the managed tree %s", cfg.ManagedRoot())
	}

	for _, f := range []struct {
		field string
		value string
	}{
		{"update.manifest_url", cfg.Update.ManifestURL},
		{"update.archive_url", cfg.Update.ArchiveURL},
	} {
		if f.value == "" {
			continue
		}
		u, err := url.Parse(f.value)
		if err != nil {
			add(f.field, "invalid URL: %v", err)
			continue
		}
		if !recognizedSchemes[u.Scheme] {
			add(f.field, "unsupported scheme %q (use http, https, file, s3 or gs)", u.Scheme)
		}
	}
	if _, err := parseDuration(cfg.Update.HTTPTimeout); err != nil {
		add("update.http_timeout", "%v", err)
	}
	if cfg.Update.MaxArchiveBytes < 0 {
		add("update.max_archive_bytes", "must not be negative")
	}

	names := make([]string, 0, len(cfg.Checks))
	for name := range cfg.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		chk := cfg.Checks[name]
		if strings.TrimSpace(chk.Command) == "" {
			add("checks."+name+".command", "is required")
		}
		if _, err := parseDuration(chk.Timeout); err != nil {
			add("checks."+name+".timeout", "%v", err)
		}
		if chk.AutoFix && chk.FixCommand == "" {
			add("checks."+name+".fix_command", "is required when auto_fix is set")
		}
	}
	for _, phase := range []struct {
		field string
		names []string
	}{
		{"finalize.lint", cfg.Finalize.Lint},
		{"finalize.build", cfg.Finalize.Build},
	} {
		for _, name := range phase.names {
			if _, ok := cfg.Checks[name]; !ok {
				add(phase.field, "references undefined check %q", name)
			}
		}
	}
	if !github.ValidMergeStrategy(cfg.Finalize.MergeStrategy) {
		add("finalize.merge_strategy", "must be squash, merge, or rebase, got %q", cfg.Finalize.MergeStrategy)
	}

	validateReview(cfg.Review, add)

	if !recognizedDrivers[cfg.DB.Driver] {
		add("db.driver", "must be sqlite3, pgx or none, got %q", cfg.DB.Driver)
	}
	if cfg.DB.Driver == "pgx" && cfg.DB.DSN == "" {
		add("db.dsn", "is required for the pgx driver")
	}
	if !recognizedLevels[cfg.Log.Level] {
		add("log.level", "unrecognized level %q", cfg.Log.Level)
	}
	if !recognizedFormats[cfg.Log.Format] {
		add("log.format", "must be console or json, got %q", cfg.Log.Format)
	}

	return errs
}

func validateReview(r Review, add func(field, format string, args ...any)) {
	if r.Threshold <= 0 || r.Threshold > 5 {
		add("review.threshold", "must be in (0, 5], got %v", r.Threshold)
	}
	if r.MaxAttempts < 1 {
		add("review.max_attempts", "must be at least 1, got %d", r.MaxAttempts)
	}
	if r.MaxFiles < 0 {
		add("review.max_files", "must not be negative")
	}
	interval, ierr := parseDuration(r.PollInterval)
	if ierr != nil {
		add("review.poll_interval", "%v", ierr)
	}
	timeout, terr := parseDuration(r.PollTimeout)
	if terr != nil {
		add("review.poll_timeout", "%v", terr)
	}
	if ierr == nil && terr == nil && interval > timeout {
		add("review.poll_interval", "must not exceed poll_timeout (%s > %s)", interval, timeout)
	}
	if _, err := review.NewScorer(r.ScorePattern); err != nil {
		add("review.score_pattern", "%v", err)
	}
	if r.Reviewer != "" && strings.TrimSpace(r.FixCommand) == "" {
		add("review.fix_command", "is required when a reviewer is configured")
	}
}
