package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwright/questweaver/internal/config"
	"github.com/fernwright/questweaver/internal/storage/storagetest"
	"github.com/fernwright/questweaver/pkg/types"
)

func testMemoryConfig() config.MemoryConfig {
	return config.MemoryConfig{
		WorkingCap:        10,
		EpisodeBatchMin:   10,
		SummaryWordBudget: 500,
		WorkingTTL:        720 * time.Hour,
		EpisodeTTL:        4320 * time.Hour,
		CompressAfter:     time.Hour,
		ReinforceDelta:    0.1,
	}
}

func newTestService(store *storagetest.Store) *Service {
	return NewService(store, nil, nil, nil, testMemoryConfig())
}

func recordTestEvents(t *testing.T, service *Service, subjectID string, count int, age time.Duration) {
	t.Helper()
	base := time.Now().Add(-age)
	for i := 0; i < count; i++ {
		_, err := service.RecordEvent(context.Background(), &types.Event{
			SubjectID:   subjectID,
			Type:        types.EventDMInteraction,
			Description: fmt.Sprintf("turn %d unfolds", i),
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
}

func TestWorkingMemoryNeverExceedsCap(t *testing.T) {
	store := storagetest.New()
	service := newTestService(store)

	recordTestEvents(t, service, "subject-1", 25, 25*time.Minute)

	working, err := service.GetWorking(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(working), testMemoryConfig().WorkingCap)
}

func TestRecordEventKeepsSourceEvent(t *testing.T) {
	store := storagetest.New()
	service := newTestService(store)

	record, err := service.RecordEvent(context.Background(), &types.Event{
		SubjectID:   "subject-1",
		Type:        types.EventQuestComplete,
		Description: "Completed the harvest quest",
		Participants: []string{
			"Maribel",
		},
	})
	require.NoError(t, err)

	require.Len(t, record.SourceEventIDs, 1)
	event, err := store.GetEvent(context.Background(), record.SourceEventIDs[0])
	require.NoError(t, err)
	assert.Equal(t, types.EventQuestComplete, event.Type)

	assert.Equal(t, string(types.EventQuestComplete), record.Metadata["event_type"])
	assert.Equal(t, "Maribel", record.Metadata["participants"])
	assert.InDelta(t, 0.8, record.Importance, 0.001, "high-signal events start hot")
}

func TestRecordEventDefaultsIDAndTimestamp(t *testing.T) {
	store := storagetest.New()
	service := newTestService(store)

	// Callers like the turn pipeline supply neither; both are filled in
	// before validation so the write goes through.
	record, err := service.RecordEvent(context.Background(), &types.Event{
		SubjectID:   "subject-1",
		Type:        types.EventDMInteraction,
		Description: "a quiet step forward",
	})
	require.NoError(t, err)

	require.Len(t, record.SourceEventIDs, 1)
	event, err := store.GetEvent(context.Background(), record.SourceEventIDs[0])
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestCompressToEpisodeNoOpBelowBatchMin(t *testing.T) {
	store := storagetest.New()
	service := newTestService(store)

	recordTestEvents(t, service, "subject-1", 5, 3*time.Hour)

	episode, err := service.CompressToEpisode(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.Nil(t, episode)

	working, err := service.GetWorking(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.Len(t, working, 5, "no-op compression must not touch working memory")
}

func TestCompressToEpisodeRetiresWorkingBatch(t *testing.T) {
	store := storagetest.New()
	service := newTestService(store)

	recordTestEvents(t, service, "subject-1", 10, 3*time.Hour)

	episode, err := service.CompressToEpisode(context.Background(), "subject-1")
	require.NoError(t, err)
	require.NotNil(t, episode)

	assert.Equal(t, types.TierEpisode, episode.Tier)
	assert.Len(t, episode.SourceEventIDs, 10)
	assert.NotEmpty(t, episode.Text)

	working, err := service.GetWorking(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.Empty(t, working, "compressed working records must retire")

	// The source events survive compression untouched.
	for _, id := range episode.SourceEventIDs {
		_, err := store.GetEvent(context.Background(), id)
		assert.NoError(t, err)
	}
}

func TestCompressToEpisodeKeepsFreshRecords(t *testing.T) {
	store := storagetest.New()
	service := newTestService(store)

	// A full batch, but all of it younger than the compression age.
	recordTestEvents(t, service, "subject-1", 10, 10*time.Minute)

	episode, err := service.CompressToEpisode(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.Nil(t, episode)

	working, err := service.GetWorking(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.Len(t, working, 10, "fresh records stay hot in the working tier")
}

func TestCompressToEpisodeUpdatesRollingSummary(t *testing.T) {
	store := storagetest.New()
	service := newTestService(store)

	recordTestEvents(t, service, "subject-1", 10, 3*time.Hour)

	_, err := service.CompressToEpisode(context.Background(), "subject-1")
	require.NoError(t, err)

	summary, err := service.Summary(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.NotEmpty(t, summary)
}

func TestUpsertLongTermDeduplicatesAndReinforces(t *testing.T) {
	store := storagetest.New()
	service := newTestService(store)

	first, err := service.UpsertLongTerm(context.Background(), "subject-1", "Rowan fears deep water", 0.6)
	require.NoError(t, err)

	second, err := service.UpsertLongTerm(context.Background(), "subject-1", "Rowan fears deep water", 0.6)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	record, err := store.GetRecord(context.Background(), first.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, record.Importance, 0.001)
}

func TestReinforceClampsImportanceToOne(t *testing.T) {
	store := storagetest.New()
	service := newTestService(store)

	record, err := service.UpsertLongTerm(context.Background(), "subject-1", "an unforgettable oath", 0.97)
	require.NoError(t, err)

	require.NoError(t, service.Reinforce(context.Background(), record.ID))

	updated, err := store.GetRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, updated.Importance)
}

func TestExpireStaleRemovesOnlyExpired(t *testing.T) {
	store := storagetest.New()
	service := newTestService(store)

	past := time.Now().Add(-time.Hour)
	expired := &types.MemoryRecord{
		ID: "expired", SubjectID: "subject-1", Tier: types.TierWorking,
		Text: "fading memory", ExpiresAt: &past, CreatedAt: past,
	}
	require.NoError(t, store.PutRecord(context.Background(), expired))

	keeper, err := service.UpsertLongTerm(context.Background(), "subject-1", "a keeper", 0.5)
	require.NoError(t, err)

	removed, err := service.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetRecord(context.Background(), keeper.ID)
	assert.NoError(t, err, "long-term records carry no expiry")
}

func TestRecordEventRejectsInvalidEvent(t *testing.T) {
	service := newTestService(storagetest.New())

	_, err := service.RecordEvent(context.Background(), &types.Event{
		SubjectID: "subject-1",
		Type:      "teleportation",
	})
	assert.Error(t, err)
}
