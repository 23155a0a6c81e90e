package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/skillctl/internal/failure"
	"github.com/lucasnoah/skillctl/internal/version"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	return NewManager(filepath.Join(t.TempDir(), "backups"), root, nil), root
}

func TestSnapshotAndRestoreByteIdentical(t *testing.T) {
	m, root := newManager(t)
	writeTree(t, root, map[string]string{
		"skills/go/SKILL.md": "old go skill",
		"skills/py/SKILL.md": "old py skill",
		"commands/finish.md": "finish",
		"manifest.json":      `{"version":"1.2.0","releaseDate":"2026-01-01"}`,
		"tasks/todo.md":      "user data",
	})
	before := readTree(t, root)

	b, err := m.Snapshot(version.MustParse("1.2.0"), []string{"skills", "commands", "manifest.json", "templates"})
	require.NoError(t, err)
	assert.Equal(t, []string{"skills", "commands", "manifest.json"}, b.Paths)
	assert.Equal(t, []string{"templates"}, b.Absent)
	assert.Contains(t, b.Name(), "1.2.0_")

	// Simulate a half-applied update.
	require.NoError(t, os.RemoveAll(filepath.Join(root, "skills", "py")))
	writeTree(t, root, map[string]string{
		"skills/go/SKILL.md": "new go skill",
		"skills/rs/SKILL.md": "new rust skill",
		"templates/x.md":     "new template",
		"manifest.json":      `{"version":"1.3.0"}`,
	})

	restored, err := m.Restore(version.MustParse("1.2.0"))
	require.NoError(t, err)
	assert.Equal(t, b.Dir, restored.Dir)
	assert.Equal(t, before, readTree(t, root))

	// The backup survives a restore.
	_, err = os.Stat(b.Dir)
	assert.NoError(t, err)
}

func TestRestoreUnknownTag(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Restore(version.MustParse("9.9.9"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrBackupNotFound))
}

func TestListNewestFirst(t *testing.T) {
	m, root := newManager(t)
	writeTree(t, root, map[string]string{"skills/a.md": "a"})

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, tag := range []string{"1.0.0", "1.1.0", "1.0.0"} {
		at := base.Add(time.Duration(i) * time.Minute)
		m.now = func() time.Time { return at }
		_, err := m.Snapshot(version.MustParse(tag), []string{"skills"})
		require.NoError(t, err)
	}

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "1.0.0", list[0].Tag.String())
	assert.Equal(t, base.Add(2*time.Minute), list[0].CreatedAt)
	assert.Equal(t, "1.1.0", list[1].Tag.String())

	latest, err := m.Latest(version.MustParse("1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, list[0].Dir, latest.Dir)
}

func TestListEmpty(t *testing.T) {
	m, _ := newManager(t)
	list, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSnapshotFailureLeavesNothing(t *testing.T) {
	m, root := newManager(t)
	writeTree(t, root, map[string]string{"skills/a.md": "a"})

	_, err := m.Snapshot(version.MustParse("1.0.0"), []string{"skills", "../outside"})
	require.Error(t, err)

	entries, err := os.ReadDir(m.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "partial backup must be removed")

	list, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListSkipsPartial(t *testing.T) {
	m, root := newManager(t)
	writeTree(t, root, map[string]string{"skills/a.md": "a"})
	_, err := m.Snapshot(version.MustParse("1.0.0"), []string{"skills"})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(m.Dir(), ".partial-123"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(m.Dir(), "garbage"), 0o755))

	list, err := m.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCopyPathPreservesSymlinksAndModes(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"bin/run.sh": "#!/bin/sh\n"})
	require.NoError(t, os.Chmod(filepath.Join(src, "bin", "run.sh"), 0o755))
	require.NoError(t, os.Symlink("run.sh", filepath.Join(src, "bin", "run")))

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, CopyPath(src, dst))

	info, err := os.Stat(filepath.Join(dst, "bin", "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	link, err := os.Readlink(filepath.Join(dst, "bin", "run"))
	require.NoError(t, err)
	assert.Equal(t, "run.sh", link)
}
