package notify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwright/questweaver/internal/config"
	"github.com/fernwright/questweaver/internal/memory"
	"github.com/fernwright/questweaver/internal/storage/storagetest"
	"github.com/fernwright/questweaver/pkg/types"
)

func newTestWatcher(t *testing.T) (*Watcher, *storagetest.Store, string) {
	t.Helper()
	store := storagetest.New()
	mem := memory.NewService(store, nil, nil, nil, config.MemoryConfig{
		WorkingCap:      10,
		EpisodeBatchMin: 10,
		WorkingTTL:      720 * time.Hour,
	})

	dropPath := filepath.Join(t.TempDir(), "intake")
	watcher, err := NewWatcher(dropPath, mem)
	require.NoError(t, err)
	return watcher, store, dropPath
}

func TestReadEventFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "event.json")
	data := `{
		"subject_id": "subject-1",
		"type": "goal_completion",
		"description": "Walked 10,000 steps",
		"timestamp": "2026-08-30T12:00:00Z"
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	event, err := readEventFile(path)
	require.NoError(t, err)
	assert.Equal(t, types.EventGoalCompletion, event.Type)
	assert.Equal(t, "subject-1", event.SubjectID)
}

func TestReadEventFileRejectsMalformed(t *testing.T) {
	dir := t.TempDir()

	garbled := filepath.Join(dir, "garbled.json")
	require.NoError(t, os.WriteFile(garbled, []byte("{not json"), 0o644))
	_, err := readEventFile(garbled)
	assert.Error(t, err)

	// Parseable but invalid: unknown event type.
	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"subject_id":"s","type":"teleportation","description":"x","timestamp":"2026-08-30T12:00:00Z"}`), 0o644))
	_, err = readEventFile(invalid)
	assert.Error(t, err)
}

func TestProcessFileIngestsAndArchives(t *testing.T) {
	watcher, store, dropPath := newTestWatcher(t)

	path := filepath.Join(dropPath, "event.json")
	data := `{"subject_id":"subject-1","type":"goal_completion","description":"Meditated for ten minutes","timestamp":"2026-08-30T12:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	watcher.processFile(context.Background(), path)

	// The file is archived, not left in place.
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".done")
	assert.NoError(t, err)

	events, err := store.ListEvents(context.Background(), "subject-1", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventGoalCompletion, events[0].Type)
}

func TestProcessFileQuarantinesBadFiles(t *testing.T) {
	watcher, store, dropPath := newTestWatcher(t)

	path := filepath.Join(dropPath, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	watcher.processFile(context.Background(), path)

	_, err := os.Stat(path + ".failed")
	assert.NoError(t, err, "unreadable files are quarantined for inspection")

	events, err := store.ListEvents(context.Background(), "subject-1", time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestProcessExistingDrainsBacklog(t *testing.T) {
	watcher, store, dropPath := newTestWatcher(t)

	for _, name := range []string{"a.json", "b.json"} {
		data := `{"subject_id":"subject-1","type":"dm_interaction","description":"backlog entry","timestamp":"2026-08-30T12:00:00Z"}`
		require.NoError(t, os.WriteFile(filepath.Join(dropPath, name), []byte(data), 0o644))
	}
	// Non-json files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dropPath, "notes.txt"), []byte("skip"), 0o644))

	require.NoError(t, watcher.processExisting(context.Background()))

	events, err := store.ListEvents(context.Background(), "subject-1", time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
