package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwright/questweaver/internal/config"
	"github.com/fernwright/questweaver/internal/llm"
	"github.com/fernwright/questweaver/pkg/types"
)

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		ExactTTL:            6 * time.Hour,
		SemanticTTL:         time.Hour,
		StaticTTL:           24 * time.Hour,
		SimilarityThreshold: 0.85,
		ExactSize:           64,
		SemanticSize:        16,
	}
}

// fakeEmbedder returns a constant vector so any two requests are
// perfectly similar.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fakeEmbedder) Model() string { return "fake-embedder" }

func cacheableRequest(prompt string) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: "narrate",
		UserPrompt:   prompt,
		MaxTokens:    700,
		Temperature:  0.8,
		Cacheable:    true,
	}
}

func TestExactRoundTrip(t *testing.T) {
	c, err := New(testCacheConfig(), nil)
	require.NoError(t, err)

	req := cacheableRequest("you enter the tavern")
	resp := &llm.CompletionResponse{Text: `{"narrative":"The tavern hums with life."}`}

	c.Store(context.Background(), "subject-1", req, resp)

	got, tier := c.Lookup(context.Background(), "subject-1", req)
	require.NotNil(t, got)
	assert.Equal(t, types.CacheTierExact, tier)
	assert.Equal(t, resp.Text, got.Text)
}

func TestLookupMissForUnknownFingerprint(t *testing.T) {
	c, err := New(testCacheConfig(), nil)
	require.NoError(t, err)

	got, tier := c.Lookup(context.Background(), "subject-1", cacheableRequest("never seen"))
	assert.Nil(t, got)
	assert.Equal(t, types.CacheTierMiss, tier)
}

func TestNonCacheableRequestsAreNotStored(t *testing.T) {
	c, err := New(testCacheConfig(), nil)
	require.NoError(t, err)

	req := cacheableRequest("revision pass")
	req.Cacheable = false
	c.Store(context.Background(), "subject-1", req, &llm.CompletionResponse{Text: "x"})

	got, _ := c.Lookup(context.Background(), "subject-1", req)
	assert.Nil(t, got)
}

func TestInvalidateSubjectDropsEntries(t *testing.T) {
	c, err := New(testCacheConfig(), nil)
	require.NoError(t, err)

	req := cacheableRequest("you enter the tavern")
	c.Store(context.Background(), "subject-1", req, &llm.CompletionResponse{Text: "x"})
	c.Store(context.Background(), "subject-2", cacheableRequest("elsewhere"), &llm.CompletionResponse{Text: "y"})

	c.InvalidateSubject("subject-1")

	got, tier := c.Lookup(context.Background(), "subject-1", req)
	assert.Nil(t, got)
	assert.Equal(t, types.CacheTierMiss, tier)

	other, _ := c.Lookup(context.Background(), "subject-2", cacheableRequest("elsewhere"))
	assert.NotNil(t, other, "other subjects' entries survive invalidation")
}

func TestSemanticTierMatchesSimilarRequests(t *testing.T) {
	c, err := New(testCacheConfig(), fakeEmbedder{})
	require.NoError(t, err)

	c.Store(context.Background(), "subject-1", cacheableRequest("you walk into the tavern"), &llm.CompletionResponse{Text: "warm light"})

	// Different wording misses exact but hits semantic via identical
	// embeddings.
	got, tier := c.Lookup(context.Background(), "subject-1", cacheableRequest("you stroll into the tavern"))
	require.NotNil(t, got)
	assert.Equal(t, types.CacheTierSemantic, tier)
	assert.Equal(t, "warm light", got.Text)
}

func TestStaticFragmentsRoundTrip(t *testing.T) {
	c, err := New(testCacheConfig(), nil)
	require.NoError(t, err)

	c.PutStatic("tavern", "The Gilded Goose, all smoke and fiddle music.")

	text, ok := c.GetStatic("tavern")
	require.True(t, ok)
	assert.Contains(t, text, "Gilded Goose")

	_, ok = c.GetStatic("castle")
	assert.False(t, ok)
}

func TestStatsCountHitsAndMisses(t *testing.T) {
	c, err := New(testCacheConfig(), nil)
	require.NoError(t, err)

	req := cacheableRequest("you enter the tavern")
	c.Lookup(context.Background(), "subject-1", req)
	c.Store(context.Background(), "subject-1", req, &llm.CompletionResponse{Text: "x"})
	c.Lookup(context.Background(), "subject-1", req)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Exact.Hits)
	assert.Equal(t, uint64(1), stats.Exact.Misses)
}

func TestFingerprintNormalizesCase(t *testing.T) {
	a := Fingerprint(cacheableRequest("You Enter The Tavern"))
	b := Fingerprint(cacheableRequest("you enter the tavern"))
	assert.Equal(t, a, b)

	c := Fingerprint(cacheableRequest("you leave the tavern"))
	assert.NotEqual(t, a, c)
}
