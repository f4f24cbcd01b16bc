// Package memory implements the tiered memory engine: every gameplay
// event lands in the working tier, working records compress into episode
// summaries in batches, and durable facts live in the long-term tier.
// A rolling narrative summary gives the narrator a compact story-so-far.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fernwright/questweaver/internal/config"
	"github.com/fernwright/questweaver/internal/llm"
	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/pkg/types"
)

// Service coordinates the three memory tiers for all subjects.
type Service struct {
	store    storage.Store
	vectors  storage.VectorProvider // nil disables embedding enrichment
	narrator llm.Narrator           // nil disables model-written episodes
	embedder llm.EmbeddingGenerator // nil disables embedding enrichment
	cfg      config.MemoryConfig
	now      func() time.Time
}

// NewService creates the memory service. narrator, embedder and vectors
// are optional; the service degrades to deterministic summaries and
// keyword-only retrieval without them.
func NewService(store storage.Store, vectors storage.VectorProvider, narrator llm.Narrator, embedder llm.EmbeddingGenerator, cfg config.MemoryConfig) *Service {
	return &Service{
		store:    store,
		vectors:  vectors,
		narrator: narrator,
		embedder: embedder,
		cfg:      cfg,
		now:      time.Now,
	}
}

// RecordEvent appends the event and its working-tier record in one
// transaction, pruning the working tier to cap. Embedding enrichment
// runs asynchronously; a turn never waits on the embedding model.
func (s *Service) RecordEvent(ctx context.Context, event *types.Event) (*types.MemoryRecord, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	// Metadata carries what retrieval scoring needs without re-reading
	// the source event.
	metadata := map[string]string{"event_type": string(event.Type)}
	if len(event.Participants) > 0 {
		metadata["participants"] = strings.Join(event.Participants, ",")
	}

	expires := event.Timestamp.Add(s.cfg.WorkingTTL)
	record := &types.MemoryRecord{
		ID:             uuid.New().String(),
		SubjectID:      event.SubjectID,
		Tier:           types.TierWorking,
		Text:           renderEventText(event),
		Importance:     eventImportance(event),
		ExpiresAt:      &expires,
		SourceEventIDs: []string{event.ID},
		Metadata:       metadata,
		CreatedAt:      event.Timestamp,
		LastAccessedAt: event.Timestamp,
	}

	if err := s.store.AppendTurn(ctx, event, record, s.cfg.WorkingCap); err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}

	s.enrichAsync(record)
	return record, nil
}

// GetWorking returns the subject's working-tier records, most recent
// first.
func (s *Service) GetWorking(ctx context.Context, subjectID string) ([]types.MemoryRecord, error) {
	return s.store.ListByTier(ctx, subjectID, types.TierWorking, s.cfg.WorkingCap)
}

// CompressToEpisode folds the subject's aged working records into one
// episode record. Records younger than CompressAfter stay hot in the
// working tier; below the batch minimum it is a no-op returning nil,
// since small batches produce episodes too thin to be worth a summary.
// The source events survive untouched; only the working records retire.
func (s *Service) CompressToEpisode(ctx context.Context, subjectID string) (*types.MemoryRecord, error) {
	batch, err := s.store.ListWorkingOlderThan(ctx, subjectID, s.now().Add(-s.cfg.CompressAfter))
	if err != nil {
		return nil, fmt.Errorf("list working records: %w", err)
	}
	if len(batch) < s.cfg.EpisodeBatchMin {
		return nil, nil
	}

	texts := make([]string, len(batch))
	ids := make([]string, len(batch))
	importance := 0.0
	for i, r := range batch {
		texts[i] = r.Text
		ids[i] = r.ID
		if r.Importance > importance {
			importance = r.Importance
		}
	}

	summary := s.digestEpisode(ctx, texts)
	expires := s.now().Add(s.cfg.EpisodeTTL)
	episode := &types.MemoryRecord{
		ID:             uuid.New().String(),
		SubjectID:      subjectID,
		Tier:           types.TierEpisode,
		Text:           summary,
		Importance:     importance,
		ExpiresAt:      &expires,
		SourceEventIDs: sourceEventIDs(batch),
		CreatedAt:      s.now(),
		LastAccessedAt: s.now(),
	}

	if err := s.store.PutRecord(ctx, episode); err != nil {
		return nil, fmt.Errorf("store episode: %w", err)
	}
	if err := s.store.RetireRecords(ctx, ids); err != nil {
		return nil, fmt.Errorf("retire working records: %w", err)
	}

	s.enrichAsync(episode)

	if err := s.refreshSummary(ctx, subjectID, episode.Text); err != nil {
		// The episode is durable; a stale rolling summary self-corrects
		// on the next compression.
		log.Printf("memory: refresh summary for %s: %v", subjectID, err)
	}
	return episode, nil
}

// GetEpisodes returns the subject's episode records, most recent first.
func (s *Service) GetEpisodes(ctx context.Context, subjectID string, limit int) ([]types.MemoryRecord, error) {
	return s.store.ListByTier(ctx, subjectID, types.TierEpisode, limit)
}

// UpsertLongTerm records a durable fact. If the same text already exists
// for the subject it is reinforced instead of duplicated.
func (s *Service) UpsertLongTerm(ctx context.Context, subjectID, text string, importance float64) (*types.MemoryRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty long-term text", storage.ErrInvalidInput)
	}

	existing, err := s.store.FindLongTermByText(ctx, subjectID, text)
	if err == nil {
		return existing, s.Reinforce(ctx, existing.ID)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("find long-term record: %w", err)
	}

	record := &types.MemoryRecord{
		ID:             uuid.New().String(),
		SubjectID:      subjectID,
		Tier:           types.TierLongTerm,
		Text:           text,
		Importance:     types.ClampImportance(importance),
		CreatedAt:      s.now(),
		LastAccessedAt: s.now(),
	}
	if err := s.store.PutRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("store long-term record: %w", err)
	}
	s.enrichAsync(record)
	return record, nil
}

// Reinforce bumps a record's importance by the configured delta, capped
// at 1, and refreshes its access bookkeeping.
func (s *Service) Reinforce(ctx context.Context, recordID string) error {
	record, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	record.Importance = types.ClampImportance(record.Importance + s.cfg.ReinforceDelta)
	if err := s.store.PutRecord(ctx, record); err != nil {
		return fmt.Errorf("reinforce record: %w", err)
	}
	return s.store.TouchAccess(ctx, recordID)
}

// ExpireStale deletes records whose TTL has passed. Long-term records
// carry no expiry and are never touched.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	return s.store.DeleteExpired(ctx, s.now())
}

// Summary returns the subject's rolling story-so-far, or "" when the
// subject has no summary yet.
func (s *Service) Summary(ctx context.Context, subjectID string) (string, error) {
	summary, err := s.store.GetSummary(ctx, subjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return summary.Text, nil
}

// digestEpisode asks the narrator for a cohesive episode summary, then
// falls back to a deterministic extract when the model is unavailable.
func (s *Service) digestEpisode(ctx context.Context, texts []string) string {
	if s.narrator != nil {
		resp, err := s.narrator.Complete(ctx, llm.BuildEpisodePrompt(texts))
		if err == nil {
			if reply, perr := llm.ParseNarrativeReply(resp.Text); perr == nil {
				return reply.Narrative
			}
		} else {
			log.Printf("memory: episode digest via model failed, using extract: %v", err)
		}
	}
	return extractiveDigest(texts)
}

// refreshSummary folds the new episode into the rolling summary, trimming
// to the word budget. Model failure falls back to deterministic trimming.
func (s *Service) refreshSummary(ctx context.Context, subjectID, episodeText string) error {
	existing, _ := s.Summary(ctx, subjectID)

	text := ""
	if s.narrator != nil {
		resp, err := s.narrator.Complete(ctx, llm.BuildSummaryPrompt(existing, []string{episodeText}, s.cfg.SummaryWordBudget))
		if err == nil {
			if reply, perr := llm.ParseNarrativeReply(resp.Text); perr == nil {
				text = reply.Narrative
			}
		}
	}
	if text == "" {
		text = trimToWords(existing+" "+episodeText, s.cfg.SummaryWordBudget)
	}

	return s.store.PutSummary(ctx, &types.NarrativeSummary{
		SubjectID: subjectID,
		Text:      strings.TrimSpace(text),
		UpdatedAt: s.now(),
	})
}

// enrichAsync computes and stores the record's embedding off the turn
// path. Failures are logged and dropped; retrieval degrades to keyword
// matching for records without embeddings. When the vector backend is a
// separate record store (the pgvector engine), the record is mirrored
// into it first so similarity search returns full records.
func (s *Service) enrichAsync(record *types.MemoryRecord) {
	if s.embedder == nil || s.vectors == nil {
		return
	}
	snapshot := *record
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		vec, err := s.embedder.Embed(ctx, snapshot.Text)
		if err != nil {
			log.Printf("memory: embed record %s: %v", snapshot.ID, err)
			return
		}
		if mirror, ok := s.vectors.(storage.RecordStore); ok {
			if err := mirror.PutRecord(ctx, &snapshot); err != nil {
				log.Printf("memory: mirror record %s to vector store: %v", snapshot.ID, err)
				return
			}
		}
		if err := s.vectors.StoreEmbedding(ctx, snapshot.ID, vec); err != nil {
			log.Printf("memory: store embedding for %s: %v", snapshot.ID, err)
		}
	}()
}

// renderEventText turns an event into the sentence stored as its working
// record.
func renderEventText(event *types.Event) string {
	var b strings.Builder
	b.WriteString(event.Description)
	if len(event.Participants) > 0 {
		b.WriteString(" (with ")
		b.WriteString(strings.Join(event.Participants, ", "))
		b.WriteString(")")
	}
	if len(event.StatDeltas) > 0 {
		codes := make([]string, 0, len(event.StatDeltas))
		for code := range event.StatDeltas {
			codes = append(codes, string(code))
		}
		sort.Strings(codes)
		parts := make([]string, len(codes))
		for i, code := range codes {
			parts[i] = fmt.Sprintf("%s%+d", code, event.StatDeltas[types.StatCode(code)])
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, " "))
		b.WriteString("]")
	}
	return b.String()
}

// eventImportance assigns the initial importance score: high-signal
// event types start hot, the rest warm.
func eventImportance(event *types.Event) float64 {
	if event.Type.IsHighSignal() {
		return 0.8
	}
	return 0.5
}

// extractiveDigest is the deterministic fallback episode summary: the
// batch's texts joined in order, prefixed for readability.
func extractiveDigest(texts []string) string {
	return "Earlier: " + strings.Join(texts, ". ")
}

// trimToWords keeps the LAST budget words so the freshest story survives
// the cut.
func trimToWords(text string, budget int) string {
	words := strings.Fields(text)
	if len(words) <= budget {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-budget:], " ")
}

func sourceEventIDs(records []types.MemoryRecord) []string {
	var ids []string
	for _, r := range records {
		ids = append(ids, r.SourceEventIDs...)
	}
	return ids
}
