package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// ErrRunNotFound is returned by Store.Get for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Store manages run records on disk. Each run lives in its own directory:
//
//	<baseDir>/<id>/run.json
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) runDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

func (s *Store) runPath(id string) string {
	return filepath.Join(s.runDir(id), "run.json")
}

// Save writes the run record, replacing any previous version.
func (s *Store) Save(run *Run) error {
	if run.ID == "" {
		return errors.New("save run: empty id")
	}
	if err := WriteJSON(s.runPath(run.ID), run); err != nil {
		return fmt.Errorf("write run %s: %w", run.ID, err)
	}
	return nil
}

// Get reads the run record for id.
func (s *Store) Get(id string) (*Run, error) {
	var run Run
	if err := ReadJSON(s.runPath(id), &run); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, err
	}
	return &run, nil
}

// List returns runs newest first, optionally filtered by kind.
// Pass "" for kind to return every run. Unreadable entries are skipped.
func (s *Store) List(kind Kind) ([]Run, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		if kind == "" || run.Kind == kind {
			runs = append(runs, *run)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// Recorder returns a Recorder that persists the run after every stage.
// Write failures are logged, never propagated into the pipeline.
func (s *Store) Recorder(logger *zap.Logger) Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &storeRecorder{store: s, logger: logger}
}

type storeRecorder struct {
	store  *Store
	logger *zap.Logger
}

func (r *storeRecorder) RecordStage(run *Run, _ StageResult) {
	r.save(run)
}

func (r *storeRecorder) RecordFinish(run *Run) {
	r.save(run)
}

func (r *storeRecorder) save(run *Run) {
	if err := r.store.Save(run); err != nil {
		r.logger.Warn("persist run record", zap.String("run_id", run.ID), zap.Error(err))
	}
}
