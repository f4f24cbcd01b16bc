// Package cache implements the multi-tier response cache in front of the
// generative model: an exact-match tier keyed by request fingerprint, a
// semantic tier matched by embedding similarity, and a static tier for
// reusable world fragments. A hit on any tier short-circuits the model
// call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fernwright/questweaver/internal/config"
	"github.com/fernwright/questweaver/internal/llm"
	"github.com/fernwright/questweaver/pkg/types"
)

// Counters tracks hits and misses for one tier.
type Counters struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// Stats reports per-tier counters.
type Stats struct {
	Exact    Counters `json:"exact"`
	Semantic Counters `json:"semantic"`
	Static   Counters `json:"static"`
}

type exactEntry struct {
	subjectID string
	response  *llm.CompletionResponse
	expiresAt time.Time
}

type semanticEntry struct {
	subjectID string
	embedding []float32
	response  *llm.CompletionResponse
	expiresAt time.Time
}

type staticEntry struct {
	text      string
	expiresAt time.Time
}

// Cache is the composed three-tier cache. Safe for concurrent use.
type Cache struct {
	cfg      config.CacheConfig
	embedder llm.EmbeddingGenerator // nil disables the semantic tier
	now      func() time.Time

	mu       sync.Mutex
	exact    *lru.Cache[string, exactEntry]
	semantic []semanticEntry // ring of recent entries, newest last
	static   map[string]staticEntry
	stats    Stats
}

// New creates the cache. embedder may be nil, disabling semantic lookup.
func New(cfg config.CacheConfig, embedder llm.EmbeddingGenerator) (*Cache, error) {
	exact, err := lru.New[string, exactEntry](cfg.ExactSize)
	if err != nil {
		return nil, fmt.Errorf("create exact cache: %w", err)
	}
	return &Cache{
		cfg:      cfg,
		embedder: embedder,
		now:      time.Now,
		exact:    exact,
		static:   make(map[string]staticEntry),
	}, nil
}

// Fingerprint produces the normalized key for a model request: prompt
// text plus the parameters that change the output.
func Fingerprint(req llm.CompletionRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%.2f",
		strings.TrimSpace(req.SystemPrompt),
		strings.TrimSpace(strings.ToLower(req.UserPrompt)),
		req.MaxTokens,
		req.Temperature)
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup consults the exact tier, then the semantic tier. It returns the
// cached response and the tier that served it, or CacheMiss.
func (c *Cache) Lookup(ctx context.Context, subjectID string, req llm.CompletionRequest) (*llm.CompletionResponse, types.CacheTier) {
	fingerprint := Fingerprint(req)
	now := c.now()

	c.mu.Lock()
	if entry, ok := c.exact.Get(fingerprint); ok && now.Before(entry.expiresAt) {
		c.stats.Exact.Hits++
		c.mu.Unlock()
		return entry.response, types.CacheTierExact
	}
	c.stats.Exact.Misses++
	c.mu.Unlock()

	if resp := c.semanticLookup(ctx, req); resp != nil {
		return resp, types.CacheTierSemantic
	}
	return nil, types.CacheTierMiss
}

// Store populates the exact and semantic tiers after a successful model
// response. Non-cacheable requests are skipped.
func (c *Cache) Store(ctx context.Context, subjectID string, req llm.CompletionRequest, resp *llm.CompletionResponse) {
	if !req.Cacheable {
		return
	}
	now := c.now()

	c.mu.Lock()
	c.exact.Add(Fingerprint(req), exactEntry{
		subjectID: subjectID,
		response:  resp,
		expiresAt: now.Add(c.cfg.ExactTTL),
	})
	c.mu.Unlock()

	if c.embedder == nil {
		return
	}
	vec, err := c.embedder.Embed(ctx, req.UserPrompt)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.semantic = append(c.semantic, semanticEntry{
		subjectID: subjectID,
		embedding: vec,
		response:  resp,
		expiresAt: now.Add(c.cfg.SemanticTTL),
	})
	if len(c.semantic) > c.cfg.SemanticSize {
		c.semantic = c.semantic[len(c.semantic)-c.cfg.SemanticSize:]
	}
}

// GetStatic returns a static world fragment by key, or "" on miss.
func (c *Cache) GetStatic(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.static[key]
	if !ok || c.now().After(entry.expiresAt) {
		c.stats.Static.Misses++
		delete(c.static, key)
		return "", false
	}
	c.stats.Static.Hits++
	return entry.text, true
}

// PutStatic stores a reusable fragment under the longest TTL.
func (c *Cache) PutStatic(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.static[key] = staticEntry{text: text, expiresAt: c.now().Add(c.cfg.StaticTTL)}
}

// InvalidateSubject drops every exact and semantic entry tied to the
// subject. Called on any world-state-changing write so stale narrative
// can never be served after the world moved on. Static fragments are
// world-scoped and survive.
func (c *Cache) InvalidateSubject(subjectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.exact.Keys() {
		if entry, ok := c.exact.Peek(key); ok && entry.subjectID == subjectID {
			c.exact.Remove(key)
		}
	}

	kept := c.semantic[:0]
	for _, entry := range c.semantic {
		if entry.subjectID != subjectID {
			kept = append(kept, entry)
		}
	}
	c.semantic = kept
}

// Stats returns a snapshot of the per-tier counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// semanticLookup embeds the request and scans recent entries for one
// above the similarity threshold. Any embedding failure is a plain miss.
func (c *Cache) semanticLookup(ctx context.Context, req llm.CompletionRequest) *llm.CompletionResponse {
	if c.embedder == nil {
		return nil
	}
	vec, err := c.embedder.Embed(ctx, req.UserPrompt)
	if err != nil {
		c.mu.Lock()
		c.stats.Semantic.Misses++
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	bestScore := c.cfg.SimilarityThreshold
	var best *llm.CompletionResponse
	for i := range c.semantic {
		entry := &c.semantic[i]
		if now.After(entry.expiresAt) {
			continue
		}
		if sim := cosineSimilarity(vec, entry.embedding); sim >= bestScore {
			bestScore = sim
			best = entry.response
		}
	}
	if best == nil {
		c.stats.Semantic.Misses++
		return nil
	}
	c.stats.Semantic.Hits++
	return best
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
