package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/skillctl/internal/checks"
	"github.com/lucasnoah/skillctl/internal/fetch"
	"github.com/lucasnoah/skillctl/internal/review"
	"github.com/lucasnoah/skillctl/internal/tree"
)

// ProjectRoot returns the absolute project root. A relative project.root is
// taken relative to the config file's directory.
func (c *Config) ProjectRoot() string {
	root := expandHome(c.Project.Root)
	if filepath.IsAbs(root) {
		return filepath.Clean(root)
	}
	base := "."
	if c.path != "" {
		base = filepath.Dir(c.path)
	}
	abs, err := filepath.Abs(filepath.Join(base, root))
	if err != nil {
		return filepath.Join(base, root)
	}
	return abs
}

// ProjectPath resolves p against the project root unless it is absolute.
func (c *Config) ProjectPath(p string) string {
	p = expandHome(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectRoot(), p)
}

// ManagedRoot returns the absolute managed tree root.
func (c *Config) ManagedRoot() string {
	return c.ProjectPath(c.Managed.Root)
}

// ManifestPath returns the absolute path of the local manifest file.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.ManagedRoot(), c.Managed.ManifestFile)
}

// BackupDir returns the absolute backup directory.
func (c *Config) BackupDir() string {
	return c.ProjectPath(c.Update.BackupDir)
}

// SessionLogPath returns the absolute session log path.
func (c *Config) SessionLogPath() string {
	return c.ProjectPath(c.Finalize.SessionLog)
}

// TemplatesDir returns the absolute prompt override directory.
func (c *Config) TemplatesDir() string {
	return c.ProjectPath(c.Review.TemplatesDir)
}

// StateDirPath returns the absolute state directory (run records, event log).
func (c *Config) StateDirPath() string {
	dir := expandHome(c.StateDir)
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// RunsDir returns where pipeline run records are stored.
func (c *Config) RunsDir() string {
	return filepath.Join(c.StateDirPath(), "runs")
}

// DSN returns the event log data source name. For sqlite3 without an
// explicit dsn this is <state_dir>/events.db.
func (c *Config) DSN() string {
	if c.DB.DSN != "" {
		if c.DB.Driver == "sqlite3" {
			return expandHome(c.DB.DSN)
		}
		return c.DB.DSN
	}
	if c.DB.Driver == "sqlite3" {
		return filepath.Join(c.StateDirPath(), "events.db")
	}
	return ""
}

// Partition builds the validated system/protected partition.
func (c *Config) Partition() (*tree.Partition, error) {
	return tree.NewPartition(c.Managed.System, c.Managed.Protected, c.Managed.ManifestFile)
}

// SourceConfig returns the fetcher settings.
func (c *Config) SourceConfig() (fetch.SourceConfig, error) {
	timeout, err := parseDuration(c.Update.HTTPTimeout)
	if err != nil {
		return fetch.SourceConfig{}, fmt.Errorf("update.http_timeout: %w", err)
	}
	return fetch.SourceConfig{
		HTTPTimeout:        timeout,
		MaxBytes:           c.Update.MaxArchiveBytes,
		S3Region:           c.Update.S3.Region,
		S3Endpoint:         c.Update.S3.Endpoint,
		S3UsePathStyle:     c.Update.S3.UsePathStyle,
		GCSCredentialsFile: expandHome(c.Update.GCS.CredentialsFile),
	}, nil
}

// CheckConfigs resolves check names to runner configs, in order.
func (c *Config) CheckConfigs(names []string) ([]checks.CheckConfig, error) {
	out := make([]checks.CheckConfig, 0, len(names))
	for _, name := range names {
		chk, ok := c.Checks[name]
		if !ok {
			return nil, fmt.Errorf("undefined check %q", name)
		}
		timeout, err := parseDuration(chk.Timeout)
		if err != nil {
			return nil, fmt.Errorf("checks.%s.timeout: %w", name, err)
		}
		out = append(out, checks.CheckConfig{
			Name:       name,
			Command:    chk.Command,
			Timeout:    timeout,
			AutoFix:    chk.AutoFix,
			FixCommand: chk.FixCommand,
		})
	}
	return out, nil
}

// ReviewPolicy returns the review gate policy.
func (c *Config) ReviewPolicy() (review.Policy, error) {
	interval, err := parseDuration(c.Review.PollInterval)
	if err != nil {
		return review.Policy{}, fmt.Errorf("review.poll_interval: %w", err)
	}
	timeout, err := parseDuration(c.Review.PollTimeout)
	if err != nil {
		return review.Policy{}, fmt.Errorf("review.poll_timeout: %w", err)
	}
	return review.Policy{
		Reviewer:     c.Review.Reviewer,
		Threshold:    c.Review.Threshold,
		MaxAttempts:  c.Review.MaxAttempts,
		PollInterval: interval,
		PollTimeout:  timeout,
		MaxFiles:     c.Review.MaxFiles,
	}, nil
}

// DeleteBranchAfterMerge reports whether merged branches are deleted.
func (c *Config) DeleteBranchAfterMerge() bool {
	return c.Finalize.DeleteBranch == nil || *c.Finalize.DeleteBranch
}

// parseDuration parses a duration string; empty means zero (use the
// consumer's default).
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
