package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/skillctl/internal/backup"
	"github.com/lucasnoah/skillctl/internal/config"
	"github.com/lucasnoah/skillctl/internal/db"
	"github.com/lucasnoah/skillctl/internal/fetch"
	applog "github.com/lucasnoah/skillctl/internal/log"
	"github.com/lucasnoah/skillctl/internal/pipeline"
	"github.com/lucasnoah/skillctl/internal/version"
)

// env holds what the pipeline commands share: the validated config, the
// logger, the run store and the event log (nil when disabled or unavailable).
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *pipeline.Store
	db     *db.DB
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadDefault()
}

func validConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if verrs := config.Validate(cfg); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, e := range verrs {
			errs[i] = e
		}
		return nil, fmt.Errorf("invalid config %s:\n%w", cfg.Path(), errors.Join(errs...))
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*zap.Logger, error) {
	lc := applog.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()}
	if logLevel != "" {
		lc.Level = logLevel
	}
	if logFormat != "" {
		lc.Format = logFormat
	}
	return applog.New(lc)
}

// openEnv loads the config and opens the shared resources. The event log is
// best effort: if it cannot be opened the commands run without it.
func openEnv(cmd *cobra.Command) (*env, func(), error) {
	cfg, err := validConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}

	e := &env{cfg: cfg, logger: logger, store: pipeline.NewStore(cfg.RunsDir())}
	if cfg.DB.Driver != "none" {
		d, err := openDB(cfg)
		if err != nil {
			logger.Warn("event log unavailable, continuing without it", zap.Error(err))
		} else {
			e.db = d
		}
	}

	cleanup := func() {
		if e.db != nil {
			e.db.Close()
		}
		_ = logger.Sync()
	}
	return e, cleanup, nil
}

// openDB opens and migrates the configured event log.
func openDB(cfg *config.Config) (*db.DB, error) {
	if cfg.DB.Driver == "none" {
		return nil, errors.New("event log disabled (db.driver: none)")
	}
	d, err := db.Open(cfg.DB.Driver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (e *env) recorders() []pipeline.Recorder {
	recs := []pipeline.Recorder{e.store.Recorder(e.logger)}
	if e.db != nil {
		recs = append(recs, e.db.Recorder(e.logger))
	}
	return recs
}

func (e *env) fetcher() (*fetch.Fetcher, error) {
	src, err := e.cfg.SourceConfig()
	if err != nil {
		return nil, err
	}
	return fetch.New(fetch.NewRouter(src), fetch.Options{
		ManifestFile: e.cfg.Managed.ManifestFile,
		Logger:       e.logger,
	}), nil
}

func (e *env) resolver(f *fetch.Fetcher) (*version.Resolver, error) {
	if e.cfg.Update.ManifestURL == "" {
		return nil, errors.New("update.manifest_url is not configured")
	}
	return version.NewResolver(f, e.cfg.ManifestPath(), e.cfg.Update.ManifestURL), nil
}

func (e *env) backups() *backup.Manager {
	return backup.NewManager(e.cfg.BackupDir(), e.cfg.ManagedRoot(), e.logger)
}
