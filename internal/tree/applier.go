package tree

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lucasnoah/skillctl/internal/failure"
)

// Result lists what an apply changed.
type Result struct {
	Replaced []string `json:"replaced"`
	Removed  []string `json:"removed,omitempty"`
}

// Applier replaces the system entries of the managed tree with those of an
// unpacked release. Protected entries are neither read from the release nor
// written in the tree.
type Applier struct {
	part   *Partition
	root   string
	fs     FS
	logger *zap.Logger
}

// NewApplier creates an Applier for the tree at root. A nil fsys uses OSFS.
func NewApplier(part *Partition, root string, fsys FS, logger *zap.Logger) *Applier {
	if fsys == nil {
		fsys = OSFS{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{part: part, root: root, fs: fsys, logger: logger}
}

// Apply swaps every system entry for the release's copy, manifest last.
// A system entry missing from the release is removed from the tree.
// Each entry is staged beside its target and renamed into place, so a
// failure leaves every entry either old or new. Any error wraps
// failure.ErrPartialApply; the caller restores the pre-update backup.
func (a *Applier) Apply(releaseDir string) (*Result, error) {
	res := &Result{}
	for _, entry := range a.part.ApplyOrder() {
		src := filepath.Join(releaseDir, entry)
		dst := filepath.Join(a.root, entry)

		if _, err := a.fs.Lstat(src); err != nil {
			if !os.IsNotExist(err) {
				return res, fmt.Errorf("%w: stat release entry %s: %v", failure.ErrPartialApply, entry, err)
			}
			if err := a.fs.RemoveAll(dst); err != nil {
				return res, fmt.Errorf("%w: remove %s: %v", failure.ErrPartialApply, entry, err)
			}
			res.Removed = append(res.Removed, entry)
			a.logger.Debug("removed system entry absent from release", zap.String("entry", entry))
			continue
		}

		if err := a.replace(entry, src, dst); err != nil {
			return res, fmt.Errorf("%w: %s: %v", failure.ErrPartialApply, entry, err)
		}
		res.Replaced = append(res.Replaced, entry)
		a.logger.Debug("replaced system entry", zap.String("entry", entry))
	}
	a.logger.Info("release applied", zap.Int("replaced", len(res.Replaced)), zap.Int("removed", len(res.Removed)))
	return res, nil
}

func (a *Applier) replace(entry, src, dst string) error {
	staged := filepath.Join(a.root, TempPrefix+"stage-"+entry)
	old := filepath.Join(a.root, TempPrefix+"old-"+entry)

	// Leftovers from an interrupted run.
	if err := a.fs.RemoveAll(staged); err != nil {
		return fmt.Errorf("clear staging: %w", err)
	}
	if err := a.fs.RemoveAll(old); err != nil {
		return fmt.Errorf("clear previous: %w", err)
	}

	if err := a.fs.Copy(src, staged); err != nil {
		a.fs.RemoveAll(staged)
		return fmt.Errorf("stage: %w", err)
	}

	hadOld := false
	if _, err := a.fs.Lstat(dst); err == nil {
		if err := a.fs.Rename(dst, old); err != nil {
			a.fs.RemoveAll(staged)
			return fmt.Errorf("move current aside: %w", err)
		}
		hadOld = true
	}

	if err := a.fs.Rename(staged, dst); err != nil {
		a.fs.RemoveAll(staged)
		if hadOld {
			if rerr := a.fs.Rename(old, dst); rerr != nil {
				a.logger.Error("could not put back current entry", zap.String("entry", entry), zap.Error(rerr))
			}
		}
		return fmt.Errorf("swap in: %w", err)
	}

	if hadOld {
		if err := a.fs.RemoveAll(old); err != nil {
			a.logger.Warn("could not remove previous entry", zap.String("path", old), zap.Error(err))
		}
	}
	return nil
}
