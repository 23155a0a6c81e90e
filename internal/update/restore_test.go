package update

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lucasnoah/skillctl/internal/backup"
	"github.com/lucasnoah/skillctl/internal/failure"
	"github.com/lucasnoah/skillctl/internal/version"
)

type stubSelector struct {
	pick    int
	options []string
}

func (s *stubSelector) Select(_ context.Context, _ string, options []string) (int, error) {
	s.options = options
	return s.pick, nil
}

func snapshotAt(t *testing.T, e *env, mgr *backup.Manager, v, ship string) *backup.Backup {
	t.Helper()
	writeFiles(t, e.root, map[string]string{"commands/ship.md": ship})
	b, err := mgr.Snapshot(version.MustParse(v), e.part.System())
	require.NoError(t, err)
	return b
}

func TestRestore_NoBackups(t *testing.T) {
	e := newEnv(t, "1.2.0")
	mgr := backup.NewManager(e.backups, e.root, zaptest.NewLogger(t))

	_, err := Restore(context.Background(), mgr, RestoreOptions{AssumeYes: true})
	assert.ErrorIs(t, err, failure.ErrBackupNotFound)
}

func TestRestore_ByVersionAndName(t *testing.T) {
	e := newEnv(t, "1.2.0")
	mgr := backup.NewManager(e.backups, e.root, zaptest.NewLogger(t))
	first := snapshotAt(t, e, mgr, "1.1.0", "ship 1.1")
	snapshotAt(t, e, mgr, "1.2.0", "ship 1.2")
	writeFiles(t, e.root, map[string]string{"commands/ship.md": "broken"})

	b, err := Restore(context.Background(), mgr, RestoreOptions{Tag: "1.2.0", AssumeYes: true})
	require.NoError(t, err)
	assert.Equal(t, version.MustParse("1.2.0"), b.Tag)
	assert.Equal(t, "ship 1.2", readFile(t, e.root, "commands/ship.md"))

	b, err = Restore(context.Background(), mgr, RestoreOptions{Tag: first.Name(), AssumeYes: true})
	require.NoError(t, err)
	assert.Equal(t, first.Name(), b.Name())
	assert.Equal(t, "ship 1.1", readFile(t, e.root, "commands/ship.md"))
}

func TestRestore_UnknownTag(t *testing.T) {
	e := newEnv(t, "1.2.0")
	mgr := backup.NewManager(e.backups, e.root, zaptest.NewLogger(t))
	snapshotAt(t, e, mgr, "1.2.0", "ship")

	_, err := Restore(context.Background(), mgr, RestoreOptions{Tag: "9.9.9", AssumeYes: true})
	assert.ErrorIs(t, err, failure.ErrBackupNotFound)
	_, err = Restore(context.Background(), mgr, RestoreOptions{Tag: "not-a-backup", AssumeYes: true})
	assert.ErrorIs(t, err, failure.ErrBackupNotFound)
}

func TestRestore_SelectAndConfirm(t *testing.T) {
	e := newEnv(t, "1.2.0")
	mgr := backup.NewManager(e.backups, e.root, zaptest.NewLogger(t))
	snapshotAt(t, e, mgr, "1.1.0", "ship 1.1")
	snapshotAt(t, e, mgr, "1.2.0", "ship 1.2")
	writeFiles(t, e.root, map[string]string{"commands/ship.md": "broken"})

	sel := &stubSelector{pick: 1} // newest first, so index 1 is 1.1.0
	confirm := &stubConfirmer{answer: false}
	b, err := Restore(context.Background(), mgr, RestoreOptions{Selector: sel, Confirmer: confirm})
	require.NoError(t, err)
	assert.Nil(t, b, "declined restore returns no backup")
	assert.Len(t, sel.options, 2)
	assert.Equal(t, "broken", readFile(t, e.root, "commands/ship.md"))

	confirm.answer = true
	b, err = Restore(context.Background(), mgr, RestoreOptions{Selector: sel, Confirmer: confirm})
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, version.MustParse("1.1.0"), b.Tag)
	assert.Equal(t, "ship 1.1", readFile(t, e.root, "commands/ship.md"))
	assert.Contains(t, confirm.asked[1], "1.1.0")
}
