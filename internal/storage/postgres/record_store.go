// Package postgres implements the vector-capable memory record store on
// PostgreSQL with the pgvector extension. It backs the semantic retrieval
// strategy for deployments that outgrow the SQLite in-process cosine scan.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/pkg/types"
)

// Schema is the record store schema, applied at open. Requires the
// pgvector extension for the embedding column.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_records (
	id               TEXT PRIMARY KEY,
	subject_id       TEXT NOT NULL,
	tier             TEXT NOT NULL,
	text             TEXT NOT NULL,
	importance       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	embedding        vector(768),
	expires_at       TIMESTAMPTZ,
	source_event_ids JSONB,
	metadata         JSONB,
	created_at       TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_pg_records_subject_tier ON memory_records(subject_id, tier, created_at DESC);
`

// RecordStore implements storage.RecordStore and storage.VectorProvider
// using PostgreSQL.
type RecordStore struct {
	db *sql.DB
}

// Open connects to PostgreSQL and applies the schema.
func Open(dsn string) (*RecordStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &RecordStore{db: db}, nil
}

// Close releases the database connection.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// PutRecord creates or updates a memory record (upsert semantics).
func (s *RecordStore) PutRecord(ctx context.Context, record *types.MemoryRecord) error {
	if record == nil {
		return storage.ErrInvalidInput
	}
	record.Importance = types.ClampImportance(record.Importance)
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	sources, err := json.Marshal(record.SourceEventIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source event ids: %w", err)
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var embedding interface{}
	if len(record.Embedding) > 0 {
		embedding = pgvector.NewVector(record.Embedding)
	}
	var expiresAt interface{}
	if record.ExpiresAt != nil {
		expiresAt = record.ExpiresAt.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_records
			(id, subject_id, tier, text, importance, embedding, expires_at, source_event_ids, metadata, created_at, last_accessed_at, access_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			importance = EXCLUDED.importance,
			embedding = EXCLUDED.embedding,
			expires_at = EXCLUDED.expires_at,
			metadata = EXCLUDED.metadata,
			last_accessed_at = EXCLUDED.last_accessed_at,
			access_count = EXCLUDED.access_count`,
		record.ID, record.SubjectID, string(record.Tier), record.Text, record.Importance,
		embedding, expiresAt, sources, metadata,
		record.CreatedAt.UTC(), record.LastAccessedAt.UTC(), record.AccessCount)
	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}
	return nil
}

// GetRecord retrieves a record by ID.
func (s *RecordStore) GetRecord(ctx context.Context, id string) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+` WHERE id = $1`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return record, nil
}

// ListByTier retrieves a subject's records in one tier, most recent first.
func (s *RecordStore) ListByTier(ctx context.Context, subjectID string, tier types.MemoryTier, limit int) ([]types.MemoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, selectRecord+`
		WHERE subject_id = $1 AND tier = $2
		ORDER BY created_at DESC
		LIMIT $3`, subjectID, string(tier), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListWorkingOlderThan retrieves a subject's working records created before
// the cutoff, oldest first.
func (s *RecordStore) ListWorkingOlderThan(ctx context.Context, subjectID string, cutoff time.Time) ([]types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+`
		WHERE subject_id = $1 AND tier = $2 AND created_at < $3
		ORDER BY created_at ASC`, subjectID, string(types.TierWorking), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list working records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// PruneWorking deletes all but the most recent cap working records.
func (s *RecordStore) PruneWorking(ctx context.Context, subjectID string, cap int) (int, error) {
	if cap < 1 {
		return 0, fmt.Errorf("%w: working cap must be at least 1", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_records
		WHERE subject_id = $1 AND tier = $2 AND id NOT IN (
			SELECT id FROM memory_records
			WHERE subject_id = $1 AND tier = $2
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		)`, subjectID, string(types.TierWorking), cap)
	if err != nil {
		return 0, fmt.Errorf("failed to prune working memory: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// RetireRecords deletes the named records.
func (s *RecordStore) RetireRecords(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_records WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to retire record %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// FindLongTermByText retrieves a subject's long-term record with exactly
// matching text.
func (s *RecordStore) FindLongTermByText(ctx context.Context, subjectID, text string) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+`
		WHERE subject_id = $1 AND tier = $2 AND text = $3`,
		subjectID, string(types.TierLongTerm), text)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find long-term record: %w", err)
	}
	return record, nil
}

// TouchAccess increments a record's access count and refreshes its
// last-accessed timestamp.
func (s *RecordStore) TouchAccess(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memory_records
		SET access_count = access_count + 1, last_accessed_at = $1
		WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch record: %w", err)
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

// DeleteExpired removes records whose expiry has passed.
func (s *RecordStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_records
		WHERE expires_at IS NOT NULL AND expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// StoreEmbedding attaches an embedding vector to a memory record.
func (s *RecordStore) StoreEmbedding(ctx context.Context, recordID string, embedding []float32) error {
	if recordID == "" || len(embedding) == 0 {
		return storage.ErrInvalidInput
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE memory_records SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(embedding), recordID)
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

// SearchSimilar returns up to k records ranked by cosine similarity using
// pgvector's cosine-distance operator.
func (s *RecordStore) SearchSimilar(ctx context.Context, subjectID string, query []float32, k int) ([]storage.ScoredRecord, error) {
	if len(query) == 0 {
		return nil, storage.ErrInvalidInput
	}
	if k <= 0 {
		k = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, tier, text, importance, expires_at, source_event_ids, metadata,
		       created_at, last_accessed_at, access_count,
		       1 - (embedding <=> $1) AS similarity
		FROM memory_records
		WHERE subject_id = $2 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $3`, pgvector.NewVector(query), subjectID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar records: %w", err)
	}
	defer rows.Close()

	var scored []storage.ScoredRecord
	for rows.Next() {
		var (
			record    types.MemoryRecord
			tier      string
			expiresAt sql.NullTime
			sources   []byte
			metadata  []byte
			sim       float64
		)
		err := rows.Scan(&record.ID, &record.SubjectID, &tier, &record.Text, &record.Importance,
			&expiresAt, &sources, &metadata,
			&record.CreatedAt, &record.LastAccessedAt, &record.AccessCount, &sim)
		if err != nil {
			return nil, err
		}
		record.Tier = types.MemoryTier(tier)
		if expiresAt.Valid {
			t := expiresAt.Time
			record.ExpiresAt = &t
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &record.SourceEventIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal source event ids: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		scored = append(scored, storage.ScoredRecord{Record: record, Similarity: sim})
	}
	return scored, rows.Err()
}

const selectRecord = `
	SELECT id, subject_id, tier, text, importance, expires_at, source_event_ids, metadata, created_at, last_accessed_at, access_count
	FROM memory_records`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*types.MemoryRecord, error) {
	var (
		record    types.MemoryRecord
		tier      string
		expiresAt sql.NullTime
		sources   []byte
		metadata  []byte
	)
	err := row.Scan(&record.ID, &record.SubjectID, &tier, &record.Text, &record.Importance,
		&expiresAt, &sources, &metadata,
		&record.CreatedAt, &record.LastAccessedAt, &record.AccessCount)
	if err != nil {
		return nil, err
	}

	record.Tier = types.MemoryTier(tier)
	if expiresAt.Valid {
		t := expiresAt.Time
		record.ExpiresAt = &t
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &record.SourceEventIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source event ids: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &record, nil
}

func collectRecords(rows *sql.Rows) ([]types.MemoryRecord, error) {
	var records []types.MemoryRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// Compile-time assertions.
var (
	_ storage.RecordStore    = (*RecordStore)(nil)
	_ storage.VectorProvider = (*RecordStore)(nil)
)
