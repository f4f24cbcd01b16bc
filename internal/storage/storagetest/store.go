// Package storagetest provides an in-memory Store implementation for
// tests. It mirrors the semantics of the sqlite store, including the
// transactional turn append and the single open encounter invariant.
package storagetest

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/pkg/types"
)

// Store is an in-memory storage.Store and storage.VectorProvider.
// Safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	events      map[string]types.Event
	records     map[string]types.MemoryRecord
	summaries   map[string]types.NarrativeSummary
	encounters  map[string]types.CombatEncounter
	skillChecks []types.SkillCheckResult
	subjects    map[string]types.SubjectSheet
	embeddings  map[string][]float32

	// FailAppendTurn forces AppendTurn to fail, for exercising the
	// store-failure path.
	FailAppendTurn bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		events:     make(map[string]types.Event),
		records:    make(map[string]types.MemoryRecord),
		summaries:  make(map[string]types.NarrativeSummary),
		encounters: make(map[string]types.CombatEncounter),
		subjects:   make(map[string]types.SubjectSheet),
		embeddings: make(map[string][]float32),
	}
}

var (
	_ storage.Store          = (*Store)(nil)
	_ storage.VectorProvider = (*Store)(nil)
)

func (s *Store) AppendEvent(ctx context.Context, event *types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEventLocked(event)
}

func (s *Store) appendEventLocked(event *types.Event) error {
	if _, ok := s.events[event.ID]; ok {
		return storage.ErrConflict
	}
	s.events[event.ID] = *event
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &event, nil
}

func (s *Store) ListEvents(ctx context.Context, subjectID string, since time.Time, limit int) ([]types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []types.Event
	for _, e := range s.events {
		if e.SubjectID == subjectID && e.Timestamp.After(since) {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *Store) ListEventsByIDs(ctx context.Context, ids []string) ([]types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []types.Event
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			events = append(events, e)
		}
	}
	return events, nil
}

func (s *Store) PutRecord(ctx context.Context, record *types.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = *record
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (*types.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &record, nil
}

func (s *Store) ListByTier(ctx context.Context, subjectID string, tier types.MemoryTier, limit int) ([]types.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.listByTierLocked(subjectID, tier)
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *Store) listByTierLocked(subjectID string, tier types.MemoryTier) []types.MemoryRecord {
	var records []types.MemoryRecord
	for _, r := range s.records {
		if r.SubjectID == subjectID && r.Tier == tier {
			records = append(records, r)
		}
	}
	return records
}

func (s *Store) ListWorkingOlderThan(ctx context.Context, subjectID string, cutoff time.Time) ([]types.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []types.MemoryRecord
	for _, r := range s.records {
		if r.SubjectID == subjectID && r.Tier == types.TierWorking && r.CreatedAt.Before(cutoff) {
			records = append(records, r)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

func (s *Store) PruneWorking(ctx context.Context, subjectID string, cap int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneWorkingLocked(subjectID, cap), nil
}

func (s *Store) pruneWorkingLocked(subjectID string, cap int) int {
	records := s.listByTierLocked(subjectID, types.TierWorking)
	if len(records) <= cap {
		return 0
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	removed := 0
	for _, r := range records[cap:] {
		delete(s.records, r.ID)
		removed++
	}
	return removed
}

func (s *Store) RetireRecords(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

func (s *Store) FindLongTermByText(ctx context.Context, subjectID, text string) (*types.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.SubjectID == subjectID && r.Tier == types.TierLongTerm && strings.EqualFold(r.Text, text) {
			record := r
			return &record, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) TouchAccess(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	record.AccessCount++
	record.LastAccessedAt = time.Now()
	s.records[id] = record
	return nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, r := range s.records {
		if r.ExpiresAt != nil && r.ExpiresAt.Before(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) AppendTurn(ctx context.Context, event *types.Event, working *types.MemoryRecord, workingCap int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppendTurn {
		return storage.ErrConflict
	}
	if err := s.appendEventLocked(event); err != nil {
		return err
	}
	s.records[working.ID] = *working
	s.pruneWorkingLocked(working.SubjectID, workingCap)
	return nil
}

func (s *Store) GetSummary(ctx context.Context, subjectID string) (*types.NarrativeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.summaries[subjectID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &summary, nil
}

func (s *Store) PutSummary(ctx context.Context, summary *types.NarrativeSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[summary.SubjectID] = *summary
	return nil
}

func (s *Store) SaveEncounter(ctx context.Context, encounter *types.CombatEncounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if encounter.Status.Open() {
		for _, e := range s.encounters {
			if e.SubjectID == encounter.SubjectID && e.ID != encounter.ID && e.Status.Open() {
				return storage.ErrConflict
			}
		}
	}
	s.encounters[encounter.ID] = cloneEncounter(encounter)
	return nil
}

func (s *Store) GetEncounter(ctx context.Context, id string) (*types.CombatEncounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	encounter, ok := s.encounters[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := cloneEncounter(&encounter)
	return &clone, nil
}

func (s *Store) GetOpenEncounter(ctx context.Context, subjectID string) (*types.CombatEncounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.encounters {
		if e.SubjectID == subjectID && e.Status.Open() {
			clone := cloneEncounter(&e)
			return &clone, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) CountOpenEncounters(ctx context.Context, subjectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, e := range s.encounters {
		if e.SubjectID == subjectID && e.Status.Open() {
			count++
		}
	}
	return count, nil
}

// ForceSaveEncounter bypasses the single open encounter check, for
// constructing invalid states in invariant tests.
func (s *Store) ForceSaveEncounter(encounter *types.CombatEncounter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encounters[encounter.ID] = cloneEncounter(encounter)
}

func (s *Store) AppendSkillCheck(ctx context.Context, result *types.SkillCheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skillChecks = append(s.skillChecks, *result)
	return nil
}

func (s *Store) ListSkillChecks(ctx context.Context, subjectID string, limit int) ([]types.SkillCheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var checks []types.SkillCheckResult
	for i := len(s.skillChecks) - 1; i >= 0; i-- {
		if s.skillChecks[i].SubjectID == subjectID {
			checks = append(checks, s.skillChecks[i])
			if limit > 0 && len(checks) == limit {
				break
			}
		}
	}
	return checks, nil
}

func (s *Store) GetSubject(ctx context.Context, id string) (*types.SubjectSheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, ok := s.subjects[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &sheet, nil
}

func (s *Store) PutSubject(ctx context.Context, sheet *types.SubjectSheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[sheet.ID] = *sheet
	return nil
}

func (s *Store) StoreEmbedding(ctx context.Context, recordID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[recordID]; !ok {
		return storage.ErrNotFound
	}
	s.embeddings[recordID] = embedding
	return nil
}

func (s *Store) SearchSimilar(ctx context.Context, subjectID string, query []float32, k int) ([]storage.ScoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var scored []storage.ScoredRecord
	for id, vec := range s.embeddings {
		record, ok := s.records[id]
		if !ok || record.SubjectID != subjectID {
			continue
		}
		scored = append(scored, storage.ScoredRecord{
			Record:     record,
			Similarity: cosine(query, vec),
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *Store) Close() error {
	return nil
}

func cloneEncounter(e *types.CombatEncounter) types.CombatEncounter {
	clone := *e
	clone.InitiativeOrder = append([]types.Combatant(nil), e.InitiativeOrder...)
	clone.Zones = make(map[string]types.Zone, len(e.Zones))
	for id, zone := range e.Zones {
		clone.Zones[id] = zone
	}
	return clone
}

func cosine(a, b []float32) float64 {
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
