// Package backup snapshots the system-owned part of the managed tree before
// an update and restores it on demand. Backups are kept until the user
// removes them.
package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/skillctl/internal/failure"
	"github.com/lucasnoah/skillctl/internal/pipeline"
	"github.com/lucasnoah/skillctl/internal/version"
)

const (
	metaFile    = "backup.json"
	contentDir  = "tree"
	partialPref = ".partial-"
	restorePref = ".skillctl-restore-"
	stampFormat = "20060102T150405.000000000Z"
	nameSep     = "_"
)

// Backup describes one snapshot on disk.
type Backup struct {
	Tag       version.Version `json:"tag"`
	CreatedAt time.Time       `json:"created_at"`
	// Paths were copied into the backup.
	Paths []string `json:"paths"`
	// Absent paths did not exist at snapshot time; restore removes them.
	Absent []string `json:"absent,omitempty"`

	// Dir is the backup's directory. Not persisted.
	Dir string `json:"-"`
}

// Name is the backup's directory name.
func (b *Backup) Name() string {
	return filepath.Base(b.Dir)
}

// Manager creates and restores backups of paths under a managed root.
type Manager struct {
	dir    string
	root   string
	now    func() time.Time
	logger *zap.Logger
}

// NewManager creates a Manager storing backups in dir for the tree at root.
func NewManager(dir, root string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{dir: dir, root: root, now: time.Now, logger: logger}
}

// Dir returns the backup directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Snapshot copies every path (relative to the managed root) into a new
// backup named after tag. The backup only becomes visible once every copy
// has completed; on error nothing is left behind.
func (m *Manager) Snapshot(tag version.Version, paths []string) (*Backup, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: mkdir %s: %w", m.dir, err)
	}
	staging, err := os.MkdirTemp(m.dir, partialPref+"*")
	if err != nil {
		return nil, fmt.Errorf("snapshot: create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()

	b := &Backup{Tag: tag, CreatedAt: m.now().UTC()}
	for _, rel := range dedupe(paths) {
		if err := checkRel(rel); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		src := filepath.Join(m.root, rel)
		if _, err := os.Lstat(src); err != nil {
			if os.IsNotExist(err) {
				b.Absent = append(b.Absent, rel)
				continue
			}
			return nil, fmt.Errorf("snapshot: stat %s: %w", rel, err)
		}
		if err := CopyPath(src, filepath.Join(staging, contentDir, rel)); err != nil {
			return nil, fmt.Errorf("snapshot: copy %s: %w", rel, err)
		}
		b.Paths = append(b.Paths, rel)
	}
	if err := os.MkdirAll(filepath.Join(staging, contentDir), 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if err := pipeline.WriteJSON(filepath.Join(staging, metaFile), b); err != nil {
		return nil, fmt.Errorf("snapshot: write metadata: %w", err)
	}

	final, err := m.uniqueName(tag, b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(staging, final); err != nil {
		return nil, fmt.Errorf("snapshot: commit %s: %w", final, err)
	}
	committed = true
	b.Dir = final

	m.logger.Info("backup created",
		zap.String("tag", tag.String()),
		zap.String("dir", final),
		zap.Int("paths", len(b.Paths)),
		zap.Int("absent", len(b.Absent)))
	return b, nil
}

func (m *Manager) uniqueName(tag version.Version, at time.Time) (string, error) {
	base := tag.String() + nameSep + at.Format(stampFormat)
	for i := 0; i < 100; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		p := filepath.Join(m.dir, name)
		if _, err := os.Lstat(p); os.IsNotExist(err) {
			return p, nil
		}
	}
	return "", fmt.Errorf("snapshot: no free backup name for %s", base)
}

// List returns every complete backup, newest first.
func (m *Manager) List() ([]Backup, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var backups []Backup
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(m.dir, e.Name())
		var b Backup
		if err := pipeline.ReadJSON(filepath.Join(dir, metaFile), &b); err != nil {
			m.logger.Debug("skipping unreadable backup", zap.String("dir", dir), zap.Error(err))
			continue
		}
		b.Dir = dir
		backups = append(backups, b)
	}
	sort.SliceStable(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Latest returns the newest backup with tag.
func (m *Manager) Latest(tag version.Version) (*Backup, error) {
	backups, err := m.List()
	if err != nil {
		return nil, err
	}
	for i := range backups {
		if version.Compare(backups[i].Tag, tag) == 0 {
			return &backups[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no backup tagged %s in %s", failure.ErrBackupNotFound, tag, m.dir)
}

// Restore copies the newest backup tagged tag back over the managed tree.
func (m *Manager) Restore(tag version.Version) (*Backup, error) {
	b, err := m.Latest(tag)
	if err != nil {
		return nil, err
	}
	if err := m.RestoreBackup(b); err != nil {
		return b, err
	}
	return b, nil
}

// RestoreBackup copies b's content back over the managed tree, replacing
// each recorded path, and removes paths that were absent at snapshot time.
// The backup itself is left in place.
func (m *Manager) RestoreBackup(b *Backup) error {
	if b == nil || b.Dir == "" {
		return fmt.Errorf("%w: empty backup", failure.ErrBackupNotFound)
	}
	if _, err := os.Stat(filepath.Join(b.Dir, metaFile)); err != nil {
		return fmt.Errorf("%w: %s: %v", failure.ErrBackupNotFound, b.Dir, err)
	}

	var errs []error
	for _, rel := range b.Paths {
		if err := m.restorePath(b, rel); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", rel, err))
		}
	}
	for _, rel := range b.Absent {
		if err := checkRel(rel); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, rel)); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", rel, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	m.logger.Info("backup restored", zap.String("tag", b.Tag.String()), zap.String("dir", b.Dir))
	return nil
}

func (m *Manager) restorePath(b *Backup, rel string) error {
	if err := checkRel(rel); err != nil {
		return err
	}
	src := filepath.Join(b.Dir, contentDir, rel)
	dst := filepath.Join(m.root, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	staged, err := os.MkdirTemp(filepath.Dir(dst), restorePref+"*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staged)

	tmp := filepath.Join(staged, filepath.Base(dst))
	if err := CopyPath(src, tmp); err != nil {
		return err
	}
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func checkRel(rel string) error {
	if rel == "" || filepath.IsAbs(rel) {
		return fmt.Errorf("invalid managed path %q", rel)
	}
	clean := filepath.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("managed path %q escapes the managed root", rel)
	}
	return nil
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
