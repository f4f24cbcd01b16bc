package types

import (
	"fmt"
	"strings"
	"time"
)

// MemoryTier identifies which layer of memory a record belongs to.
type MemoryTier string

const (
	// TierWorking holds the most recent raw events, pruned to a small cap
	// per subject. Created 1:1 with events.
	TierWorking MemoryTier = "working"

	// TierEpisode holds compressed summaries of aged-out working records.
	TierEpisode MemoryTier = "episode"

	// TierLongTerm holds facts that must never be forgotten. Long-term
	// records are reinforced on repeated access.
	TierLongTerm MemoryTier = "long_term"
)

// Valid reports whether the tier is one of the known tiers.
func (t MemoryTier) Valid() bool {
	switch t {
	case TierWorking, TierEpisode, TierLongTerm:
		return true
	}
	return false
}

// MemoryRecord is a retrievable unit of memory for a subject.
type MemoryRecord struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`

	// SubjectID is the character this record belongs to.
	SubjectID string `json:"subject_id"`

	// Tier is the memory layer the record lives in.
	Tier MemoryTier `json:"tier"`

	// Text is the retrievable content.
	Text string `json:"text"`

	// Importance weights the record in retrieval, clamped to [0,1].
	Importance float64 `json:"importance"`

	// Embedding is the optional vector representation for semantic search.
	Embedding []float32 `json:"embedding,omitempty"`

	// ExpiresAt marks when the record becomes eligible for expiry.
	// Long-term records have no expiry.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// SourceEventIDs lists the events this record was derived from.
	// Working records have exactly one; episodes have the whole batch.
	SourceEventIDs []string `json:"source_event_ids,omitempty"`

	// Metadata holds free-form attributes.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessedAt is when the record was last retrieved or reinforced.
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// AccessCount is the total number of retrievals.
	AccessCount int `json:"access_count"`
}

// Validate checks that the record is well-formed for persistence.
func (r *MemoryRecord) Validate() error {
	if strings.TrimSpace(r.SubjectID) == "" {
		return fmt.Errorf("memory record: subject id is required")
	}
	if !r.Tier.Valid() {
		return fmt.Errorf("memory record: unknown tier %q", r.Tier)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("memory record: text is required")
	}
	if r.Importance < 0 || r.Importance > 1 {
		return fmt.Errorf("memory record: importance %.3f outside [0,1]", r.Importance)
	}
	return nil
}

// ClampImportance constrains an importance score to [0,1].
// NaN maps to 0.
func ClampImportance(score float64) float64 {
	if score != score || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// NarrativeSummary is the rolling prose digest for one subject, rewritten
// by appending new material and recompressing to the word budget. It is
// read as ambient context by every generation step.
type NarrativeSummary struct {
	// SubjectID is the character the summary describes.
	SubjectID string `json:"subject_id"`

	// Text is the digest prose.
	Text string `json:"text"`

	// UpdatedAt is when the summary was last rewritten.
	UpdatedAt time.Time `json:"updated_at"`
}

// WordCount returns the number of whitespace-separated words in the summary.
func (s *NarrativeSummary) WordCount() int {
	return len(strings.Fields(s.Text))
}
