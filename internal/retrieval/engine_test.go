package retrieval

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwright/questweaver/internal/config"
	"github.com/fernwright/questweaver/internal/storage/storagetest"
	"github.com/fernwright/questweaver/pkg/types"
)

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		TopK:             8,
		WindowDays:       30,
		SemanticWeight:   0.6,
		KeywordWeight:    0.4,
		RecencyWeight:    0.3,
		RelevanceWeight:  0.5,
		ImportanceWeight: 0.2,
	}
}

func TestExtractKeywords(t *testing.T) {
	keywords := ExtractKeywords("You sneak past the sleeping dragon and into the treasure vault")

	assert.Contains(t, keywords, "sneak")
	assert.Contains(t, keywords, "dragon")
	assert.Contains(t, keywords, "treasure")
	assert.NotContains(t, keywords, "the", "stopwords are filtered")
	assert.NotContains(t, keywords, "and", "short words are filtered")
	assert.NotContains(t, keywords, "past", "common words are filtered")
}

func TestKeywordScoreComponents(t *testing.T) {
	now := time.Now()
	record := &types.MemoryRecord{
		Text:      "Rowan defeated the dragon at the northern gate",
		CreatedAt: now.AddDate(0, 0, -5),
		Metadata: map[string]string{
			"event_type":   string(types.EventQuestComplete),
			"participants": "Maribel",
		},
	}

	query := "tell maribel about the dragon"
	score := KeywordScore(record, ExtractKeywords(query), query, now)

	// One keyword hit (dragon) = 10, recency bonus 20-5 = 15,
	// high-signal +15, participant match +25.
	assert.InDelta(t, 65.0, score, 0.01)
}

func TestKeywordScoreNoRecencyBonusWhenOld(t *testing.T) {
	now := time.Now()
	record := &types.MemoryRecord{
		Text:      "an old dragon tale",
		CreatedAt: now.AddDate(0, 0, -25),
	}

	score := KeywordScore(record, []string{"dragon"}, "dragon", now)
	assert.InDelta(t, 10.0, score, 0.01)
}

func TestCompositeScoreIsPure(t *testing.T) {
	a := CompositeScore(10, 0.7, 0.4, 0.3, 0.5, 0.2)
	b := CompositeScore(10, 0.7, 0.4, 0.3, 0.5, 0.2)
	assert.Equal(t, a, b)

	expected := 0.3*math.Exp(-10.0/30.0) + 0.5*0.7 + 0.2*0.4
	assert.InDelta(t, expected, a, 1e-9)
}

func TestRetrieveKeywordOnlyRanksByRelevance(t *testing.T) {
	store := storagetest.New()
	now := time.Now()

	relevant := &types.MemoryRecord{
		ID: "r1", SubjectID: "subject-1", Tier: types.TierWorking,
		Text:       "You met the blacksmith Torvald about a broken sword",
		Importance: 0.5,
		CreatedAt:  now.Add(-time.Hour),
	}
	unrelated := &types.MemoryRecord{
		ID: "r2", SubjectID: "subject-1", Tier: types.TierWorking,
		Text:       "You foraged berries by the river",
		Importance: 0.5,
		CreatedAt:  now.Add(-time.Hour),
	}
	require.NoError(t, store.PutRecord(context.Background(), relevant))
	require.NoError(t, store.PutRecord(context.Background(), unrelated))

	engine := NewEngine(store, nil, nil, testRetrievalConfig())
	items, err := engine.Retrieve(context.Background(), "subject-1", "ask torvald about the sword", 2)
	require.NoError(t, err)

	require.Len(t, items, 2)
	assert.Equal(t, "r1", items[0].Record.ID)
	assert.Greater(t, items[0].Score, items[1].Score)
}

func TestRetrieveExcludesRecordsOutsideWindow(t *testing.T) {
	store := storagetest.New()
	now := time.Now()

	stale := &types.MemoryRecord{
		ID: "old", SubjectID: "subject-1", Tier: types.TierWorking,
		Text:      "an ancient sword memory",
		CreatedAt: now.AddDate(0, 0, -45),
	}
	require.NoError(t, store.PutRecord(context.Background(), stale))

	engine := NewEngine(store, nil, nil, testRetrievalConfig())
	items, err := engine.Retrieve(context.Background(), "subject-1", "sword", 5)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRetrieveIncludesReinforcedLongTermFacts(t *testing.T) {
	store := storagetest.New()
	now := time.Now()

	fact := &types.MemoryRecord{
		ID: "lt1", SubjectID: "subject-1", Tier: types.TierLongTerm,
		Text:           "Rowan swore an oath to protect the village",
		Importance:     0.9,
		CreatedAt:      now.AddDate(0, 0, -120),
		LastAccessedAt: now.Add(-time.Hour),
	}
	require.NoError(t, store.PutRecord(context.Background(), fact))

	engine := NewEngine(store, nil, nil, testRetrievalConfig())
	items, err := engine.Retrieve(context.Background(), "subject-1", "remember the oath to the village", 5)
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, "lt1", items[0].Record.ID)
}
