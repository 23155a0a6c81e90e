package config

// Config is the top-level configuration structure parsed from skillctl.yaml.
type Config struct {
	Project  Project          `yaml:"project"`
	Managed  Managed          `yaml:"managed"`
	Update   Update           `yaml:"update"`
	Finalize Finalize         `yaml:"finalize"`
	Checks   map[string]Check `yaml:"checks"`
	Review   Review           `yaml:"review"`
	DB       DB               `yaml:"db"`
	StateDir string           `yaml:"state_dir"`
	Log      Log              `yaml:"log"`

	// path is the file the config was loaded from; relative paths resolve
	// against its directory.
	path string
}

// Project describes the repository skillctl operates on.
type Project struct {
	Root   string `yaml:"root"`
	Trunk  string `yaml:"trunk"`
	Remote string `yaml:"remote"`
}

// Managed describes the managed tree and its system/protected partition.
type Managed struct {
	Root         string   `yaml:"root"`
	ManifestFile string   `yaml:"manifest_file"`
	System       []string `yaml:"system"`
	Protected    []string `yaml:"protected"`
}

// Update configures the self-update pipeline.
type Update struct {
	ManifestURL     string `yaml:"manifest_url"`
	ArchiveURL      string `yaml:"archive_url"`
	BackupDir       string `yaml:"backup_dir"`
	HTTPTimeout     string `yaml:"http_timeout"`
	MaxArchiveBytes int64  `yaml:"max_archive_bytes"`
	S3              S3     `yaml:"s3"`
	GCS             GCS    `yaml:"gcs"`
}

// S3 configures s3:// sources.
type S3 struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// GCS configures gs:// sources.
type GCS struct {
	CredentialsFile string `yaml:"credentials_file"`
}

// Finalize configures the end-of-session pipeline.
type Finalize struct {
	SessionLog    string   `yaml:"session_log"`
	Lint          []string `yaml:"lint"`
	Build         []string `yaml:"build"`
	MergeStrategy string   `yaml:"merge_strategy"`
	DeleteBranch  *bool    `yaml:"delete_branch"`
	TitlePrefix   string   `yaml:"title_prefix"`
}

// Check defines a shell command run during the lint or build phase.
type Check struct {
	Command    string `yaml:"command"`
	Timeout    string `yaml:"timeout"`
	FixCommand string `yaml:"fix_command"`
	AutoFix    bool   `yaml:"auto_fix"`
}

// Review configures the review gate.
type Review struct {
	Reviewer     string  `yaml:"reviewer"`
	Threshold    float64 `yaml:"threshold"`
	MaxAttempts  int     `yaml:"max_attempts"`
	PollInterval string  `yaml:"poll_interval"`
	PollTimeout  string  `yaml:"poll_timeout"`
	MaxFiles     int     `yaml:"max_files"`
	ScorePattern string  `yaml:"score_pattern"`
	FixCommand   string  `yaml:"fix_command"`
	TemplatesDir string  `yaml:"templates_dir"`
}

// DB configures the run event log.
type DB struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
