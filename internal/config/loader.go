package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the project-level config file name.
const FileName = "skillctl.yaml"

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it fills every unset field with its default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.path = abs
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./skillctl.yaml, ./.skillctl/config.yaml,
// ~/.skillctl/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{FileName, filepath.Join(".skillctl", "config.yaml")}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".skillctl", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no skillctl config found (searched: %v)", candidates)
}

// Path returns the file the config was loaded from, or "" if it was not loaded from a file.
func (c *Config) Path() string {
	return c.path
}

// applyDefaults fills unset fields.
func applyDefaults(cfg *Config) {
	setDefault(&cfg.Project.Root, ".")
	setDefault(&cfg.Project.Trunk, "main")
	setDefault(&cfg.Project.Remote, "origin")

	setDefault(&cfg.Managed.Root, ".claude")
	setDefault(&cfg.Managed.ManifestFile, "manifest.json")

	setDefault(&cfg.Update.BackupDir, filepath.Join(".skillctl", "backups"))
	setDefault(&cfg.Update.HTTPTimeout, "30s")

	setDefault(&cfg.Finalize.SessionLog, "SESSION_LOG.md")
	setDefault(&cfg.Finalize.MergeStrategy, "squash")
	setDefault(&cfg.Finalize.TitlePrefix, "Session: ")
	if cfg.Finalize.DeleteBranch == nil {
		t := true
		cfg.Finalize.DeleteBranch = &t
	}

	if cfg.Review.Threshold == 0 {
		cfg.Review.Threshold = 4
	}
	if cfg.Review.MaxAttempts == 0 {
		cfg.Review.MaxAttempts = 3
	}
	setDefault(&cfg.Review.PollInterval, "30s")
	setDefault(&cfg.Review.PollTimeout, "10m")
	setDefault(&cfg.Review.TemplatesDir, filepath.Join(".skillctl", "templates"))

	setDefault(&cfg.StateDir, filepath.Join("~", ".skillctl"))
	setDefault(&cfg.DB.Driver, "sqlite3")

	setDefault(&cfg.Log.Level, "info")
	setDefault(&cfg.Log.Format, "console")
}

func setDefault(field *string, def string) {
	if *field == "" {
		*field = def
	}
}
