// Package storage provides composable storage interfaces for Questweaver.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. The core invariants the
// pipeline depends on (append-only events, per-subject transactional
// writes, single open encounter) are enforced here, not by callers.
package storage

import (
	"context"
	"time"

	"github.com/fernwright/questweaver/pkg/types"
)

// EventStore provides append-only persistence for gameplay events.
// Events are never updated or deleted.
type EventStore interface {
	// AppendEvent durably stores a new event.
	AppendEvent(ctx context.Context, event *types.Event) error

	// GetEvent retrieves an event by ID.
	// Returns ErrNotFound if the event doesn't exist.
	GetEvent(ctx context.Context, id string) (*types.Event, error)

	// ListEvents retrieves a subject's events newer than since, most
	// recent first, up to limit.
	ListEvents(ctx context.Context, subjectID string, since time.Time, limit int) ([]types.Event, error)

	// ListEventsByIDs retrieves the named events in the given order.
	// Missing IDs are skipped, not errors.
	ListEventsByIDs(ctx context.Context, ids []string) ([]types.Event, error)
}

// RecordStore provides persistence for tiered memory records.
type RecordStore interface {
	// PutRecord creates or updates a memory record (upsert semantics).
	PutRecord(ctx context.Context, record *types.MemoryRecord) error

	// GetRecord retrieves a record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetRecord(ctx context.Context, id string) (*types.MemoryRecord, error)

	// ListByTier retrieves a subject's records in one tier, most recent
	// first, up to limit.
	ListByTier(ctx context.Context, subjectID string, tier types.MemoryTier, limit int) ([]types.MemoryRecord, error)

	// ListWorkingOlderThan retrieves a subject's working records created
	// before the cutoff, oldest first.
	ListWorkingOlderThan(ctx context.Context, subjectID string, cutoff time.Time) ([]types.MemoryRecord, error)

	// PruneWorking deletes all but the most recent cap working records for
	// a subject and returns the number removed.
	PruneWorking(ctx context.Context, subjectID string, cap int) (int, error)

	// RetireRecords deletes the named records. Used when a batch of
	// working records is compressed into an episode; the underlying
	// events are untouched.
	RetireRecords(ctx context.Context, ids []string) error

	// FindLongTermByText retrieves a subject's long-term record with
	// exactly matching text. Returns ErrNotFound when absent.
	FindLongTermByText(ctx context.Context, subjectID, text string) (*types.MemoryRecord, error)

	// TouchAccess increments a record's access count and refreshes its
	// last-accessed timestamp.
	TouchAccess(ctx context.Context, id string) error

	// DeleteExpired removes records whose expiry has passed and returns
	// the number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// TurnStore provides the per-subject transactional write at the heart of a
// turn: the event append and its 1:1 working record either both persist or
// neither does, and the working tier is pruned to cap inside the same
// transaction. This is the only multi-write operation the pipeline needs
// to be atomic.
type TurnStore interface {
	AppendTurn(ctx context.Context, event *types.Event, working *types.MemoryRecord, workingCap int) error
}

// SummaryStore provides persistence for rolling narrative summaries.
type SummaryStore interface {
	// GetSummary retrieves the summary for a subject.
	// Returns ErrNotFound when the subject has no summary yet.
	GetSummary(ctx context.Context, subjectID string) (*types.NarrativeSummary, error)

	// PutSummary creates or replaces the subject's summary.
	PutSummary(ctx context.Context, summary *types.NarrativeSummary) error
}

// EncounterStore provides persistence for combat encounters and enforces
// the single-open-encounter invariant per subject.
type EncounterStore interface {
	// SaveEncounter creates or updates an encounter. Saving an encounter
	// with an open status while a different open encounter exists for the
	// same subject returns ErrConflict.
	SaveEncounter(ctx context.Context, encounter *types.CombatEncounter) error

	// GetEncounter retrieves an encounter by ID.
	// Returns ErrNotFound if the encounter doesn't exist.
	GetEncounter(ctx context.Context, id string) (*types.CombatEncounter, error)

	// GetOpenEncounter retrieves the subject's open encounter.
	// Returns ErrNotFound when none is open.
	GetOpenEncounter(ctx context.Context, subjectID string) (*types.CombatEncounter, error)

	// CountOpenEncounters returns how many open encounters the subject
	// has. Anything above one is an invariant violation.
	CountOpenEncounters(ctx context.Context, subjectID string) (int, error)
}

// SkillCheckStore provides append-only persistence for resolved skill
// checks, kept for analytics.
type SkillCheckStore interface {
	// AppendSkillCheck durably stores a resolved check.
	AppendSkillCheck(ctx context.Context, result *types.SkillCheckResult) error

	// ListSkillChecks retrieves a subject's checks, most recent first.
	ListSkillChecks(ctx context.Context, subjectID string, limit int) ([]types.SkillCheckResult, error)
}

// SubjectStore provides persistence for character sheets.
type SubjectStore interface {
	// GetSubject retrieves a sheet by ID.
	// Returns ErrNotFound if the subject doesn't exist.
	GetSubject(ctx context.Context, id string) (*types.SubjectSheet, error)

	// PutSubject creates or updates a sheet.
	PutSubject(ctx context.Context, sheet *types.SubjectSheet) error
}

// VectorProvider stores embeddings and performs cosine-similarity search
// over a subject's memory records. The semantic retrieval strategy degrades
// to keyword-only when no provider is configured.
type VectorProvider interface {
	// StoreEmbedding attaches an embedding vector to a memory record.
	StoreEmbedding(ctx context.Context, recordID string, embedding []float32) error

	// SearchSimilar returns up to k records for the subject ranked by
	// cosine similarity to the query vector, most similar first.
	SearchSimilar(ctx context.Context, subjectID string, query []float32, k int) ([]ScoredRecord, error)
}

// ScoredRecord pairs a memory record with its similarity score.
type ScoredRecord struct {
	Record     types.MemoryRecord
	Similarity float64
}

// Store is the full composed storage surface the service wires together.
type Store interface {
	EventStore
	RecordStore
	TurnStore
	SummaryStore
	EncounterStore
	SkillCheckStore
	SubjectStore

	// Close releases any resources held by the store.
	Close() error
}
