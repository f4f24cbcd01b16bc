package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwright/questweaver/internal/storage/sqlite"
	"github.com/fernwright/questweaver/pkg/types"
)

func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "questweaver.db")
	store, err := sqlite.Open(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.PutSubject(context.Background(), &types.SubjectSheet{
		ID: "subject-1", Name: "Rowan", Level: 1, MaxHP: 20, HP: 20,
	}))
	return path
}

func TestCreateVerifyRestore(t *testing.T) {
	source := seedDatabase(t)
	destDir := filepath.Join(t.TempDir(), "backups")

	snapshotPath, err := Create(source, destDir)
	require.NoError(t, err)
	require.NoError(t, Verify(snapshotPath))

	// Restore into a fresh location and confirm the data survived.
	restored := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, Restore(snapshotPath, restored))

	store, err := sqlite.Open(restored)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	sheet, err := store.GetSubject(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.Equal(t, "Rowan", sheet.Name)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o644))
	assert.Error(t, Verify(path))
}

func TestListOrdersNewestFirst(t *testing.T) {
	destDir := t.TempDir()
	old := filepath.Join(destDir, "questweaver-old.db")
	recent := filepath.Join(destDir, "questweaver-recent.db")
	require.NoError(t, os.WriteFile(old, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(recent, []byte("b"), 0o644))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	snapshots, err := List(destDir)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, recent, snapshots[0].Path)
}

func TestListMissingDirIsEmpty(t *testing.T) {
	snapshots, err := List(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestPruneKeepsNewest(t *testing.T) {
	destDir := t.TempDir()
	for i, name := range []string{"questweaver-a.db", "questweaver-b.db", "questweaver-c.db"} {
		path := filepath.Join(destDir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		ts := time.Now().Add(-time.Duration(3-i) * time.Hour)
		require.NoError(t, os.Chtimes(path, ts, ts))
	}

	removed, err := Prune(destDir, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	snapshots, err := List(destDir)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, filepath.Join(destDir, "questweaver-c.db"), snapshots[0].Path)

	// Prune never deletes the last snapshot.
	removed, err = Prune(destDir, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
