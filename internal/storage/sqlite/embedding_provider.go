package sqlite

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/fernwright/questweaver/internal/storage"
)

// StoreEmbedding attaches an embedding vector to a memory record.
func (s *Store) StoreEmbedding(ctx context.Context, recordID string, embedding []float32) error {
	if recordID == "" || len(embedding) == 0 {
		return storage.ErrInvalidInput
	}

	data, err := marshalJSON(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE memory_records SET embedding = ? WHERE id = ?`, data, recordID)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SearchSimilar returns up to k records for the subject ranked by cosine
// similarity to the query vector. SQLite has no native vector index, so
// the candidate set is loaded and ranked in process; per-subject record
// counts are small enough (bounded tiers plus expiry) that this stays
// cheap. The postgres backend uses pgvector for the same operation.
func (s *Store) SearchSimilar(ctx context.Context, subjectID string, query []float32, k int) ([]storage.ScoredRecord, error) {
	if len(query) == 0 {
		return nil, storage.ErrInvalidInput
	}
	if k <= 0 {
		k = 10
	}

	rows, err := s.db.QueryContext(ctx, selectRecord+`
		WHERE subject_id = ? AND embedding IS NOT NULL`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded records: %w", err)
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}

	scored := make([]storage.ScoredRecord, 0, len(records))
	for i := range records {
		sim := cosineSimilarity(query, records[i].Embedding)
		if math.IsNaN(sim) {
			continue
		}
		scored = append(scored, storage.ScoredRecord{Record: records[i], Similarity: sim})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Mismatched dimensions or zero vectors yield NaN so callers can skip them.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Compile-time assertion.
var _ storage.VectorProvider = (*Store)(nil)
