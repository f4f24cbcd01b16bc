// Package retrieval implements hybrid context retrieval over the memory
// tiers: a keyword strategy that is always available and a semantic
// strategy that rides the embedding backend when one is configured. The
// two run in parallel and their scores join into one composite ranking.
package retrieval

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fernwright/questweaver/internal/config"
	"github.com/fernwright/questweaver/internal/llm"
	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/pkg/types"
)

// ContextItem is one ranked piece of retrieved context.
type ContextItem struct {
	Record types.MemoryRecord
	Score  float64
}

// Engine retrieves ranked context for a turn.
type Engine struct {
	records  storage.RecordStore
	vectors  storage.VectorProvider // nil disables the semantic strategy
	embedder llm.EmbeddingGenerator // nil disables the semantic strategy
	cfg      config.RetrievalConfig
	now      func() time.Time
}

// NewEngine creates a retrieval engine. vectors and embedder may be nil,
// in which case retrieval is keyword-only.
func NewEngine(records storage.RecordStore, vectors storage.VectorProvider, embedder llm.EmbeddingGenerator, cfg config.RetrievalConfig) *Engine {
	return &Engine{
		records:  records,
		vectors:  vectors,
		embedder: embedder,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Retrieve returns the top-k context items for the query. The keyword
// and semantic strategies run in parallel and are joined before ranking;
// a semantic failure degrades to keyword-only rather than failing the
// turn.
func (e *Engine) Retrieve(ctx context.Context, subjectID, queryText string, k int) ([]ContextItem, error) {
	if k <= 0 {
		k = e.cfg.TopK
	}

	var (
		wg         sync.WaitGroup
		keyword    map[string]float64
		candidates map[string]types.MemoryRecord
		kwErr      error
		semantic   map[string]float64
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		keyword, candidates, kwErr = e.keywordScores(ctx, subjectID, queryText)
	}()

	if e.vectors != nil && e.embedder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var semErr error
			semantic, semErr = e.semanticScores(ctx, subjectID, queryText, k*2)
			if semErr != nil {
				log.Printf("retrieval: semantic strategy degraded for %s: %v", subjectID, semErr)
			}
		}()
	}

	wg.Wait()
	if kwErr != nil {
		return nil, kwErr
	}

	// Semantic hits may surface records outside the keyword candidate
	// window; fetch them so ranking sees the full record.
	for id := range semantic {
		if _, ok := candidates[id]; ok {
			continue
		}
		record, err := e.records.GetRecord(ctx, id)
		if err != nil {
			continue
		}
		candidates[id] = *record
	}

	items := e.rank(keyword, semantic, candidates, k)
	e.touchAsync(items)
	return items, nil
}

// keywordScores scores every candidate record in the retrieval window.
func (e *Engine) keywordScores(ctx context.Context, subjectID, queryText string) (map[string]float64, map[string]types.MemoryRecord, error) {
	keywords := ExtractKeywords(queryText)
	queryLower := strings.ToLower(queryText)
	now := e.now()
	cutoff := now.AddDate(0, 0, -e.cfg.WindowDays)

	scores := make(map[string]float64)
	candidates := make(map[string]types.MemoryRecord)
	for _, tier := range []types.MemoryTier{types.TierWorking, types.TierEpisode, types.TierLongTerm} {
		records, err := e.records.ListByTier(ctx, subjectID, tier, 200)
		if err != nil {
			return nil, nil, err
		}
		for _, r := range records {
			// Reinforced long-term facts stay in the window via their
			// last access, not their creation date.
			reference := r.CreatedAt
			if tier == types.TierLongTerm && r.LastAccessedAt.After(reference) {
				reference = r.LastAccessedAt
			}
			if reference.Before(cutoff) {
				continue
			}
			scores[r.ID] = KeywordScore(&r, keywords, queryLower, now)
			candidates[r.ID] = r
		}
	}
	return scores, candidates, nil
}

// semanticScores embeds the query and ranks by cosine similarity.
func (e *Engine) semanticScores(ctx context.Context, subjectID, queryText string, k int) (map[string]float64, error) {
	vec, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	scored, err := e.vectors.SearchSimilar(ctx, subjectID, vec, k)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(scored))
	for _, s := range scored {
		scores[s.Record.ID] = s.Similarity
	}
	return scores, nil
}

// rank joins the two strategies into relevance, applies the composite
// score, and returns the top k items.
func (e *Engine) rank(keyword, semantic map[string]float64, candidates map[string]types.MemoryRecord, k int) []ContextItem {
	// Keyword scores are unbounded points; normalize to [0,1] against
	// the best candidate so they can blend with cosine similarity.
	maxKeyword := 0.0
	for _, s := range keyword {
		if s > maxKeyword {
			maxKeyword = s
		}
	}

	now := e.now()
	items := make([]ContextItem, 0, len(candidates))
	for id, record := range candidates {
		kwNorm := 0.0
		if maxKeyword > 0 {
			kwNorm = keyword[id] / maxKeyword
		}

		relevance := kwNorm
		if semantic != nil {
			relevance = e.cfg.SemanticWeight*semantic[id] + e.cfg.KeywordWeight*kwNorm
		}

		ageDays := now.Sub(record.CreatedAt).Hours() / 24
		score := CompositeScore(ageDays, relevance, record.Importance,
			e.cfg.RecencyWeight, e.cfg.RelevanceWeight, e.cfg.ImportanceWeight)
		items = append(items, ContextItem{Record: record, Score: score})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > k {
		items = items[:k]
	}
	return items
}

// touchAsync refreshes access bookkeeping for retrieved records off the
// turn path. Best effort only.
func (e *Engine) touchAsync(items []ContextItem) {
	if len(items) == 0 {
		return
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.Record.ID
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, id := range ids {
			if err := e.records.TouchAccess(ctx, id); err != nil {
				log.Printf("retrieval: touch access %s: %v", id, err)
			}
		}
	}()
}
