package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/pkg/types"
)

// PutRecord creates or updates a memory record (upsert semantics).
func (s *Store) PutRecord(ctx context.Context, record *types.MemoryRecord) error {
	if record == nil {
		return storage.ErrInvalidInput
	}
	record.Importance = types.ClampImportance(record.Importance)
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	return s.putRecord(ctx, s.db, record)
}

func (s *Store) putRecord(ctx context.Context, ex execer, record *types.MemoryRecord) error {
	embedding, err := marshalJSON(record.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	sources, err := marshalJSON(record.SourceEventIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source event ids: %w", err)
	}
	metadata, err := marshalJSON(record.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var expiresAt interface{}
	if record.ExpiresAt != nil {
		expiresAt = record.ExpiresAt.UTC()
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO memory_records
			(id, subject_id, tier, text, importance, embedding, expires_at, source_event_ids, metadata, created_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			importance = excluded.importance,
			embedding = excluded.embedding,
			expires_at = excluded.expires_at,
			metadata = excluded.metadata,
			last_accessed_at = excluded.last_accessed_at,
			access_count = excluded.access_count`,
		record.ID, record.SubjectID, string(record.Tier), record.Text, record.Importance,
		embedding, expiresAt, sources, metadata,
		record.CreatedAt.UTC(), record.LastAccessedAt.UTC(), record.AccessCount)
	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}
	return nil
}

// GetRecord retrieves a record by ID.
func (s *Store) GetRecord(ctx context.Context, id string) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id)
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
func (s *Store) ListByTier(ctx context.Context, subjectID string, tier types.MemoryTier, limit int) ([]types.MemoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, selectRecord+`
		WHERE subject_id = ? AND tier = ?
		ORDER BY created_at DESC
		LIMIT ?`, subjectID, string(tier), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListWorkingOlderThan retrieves a subject's working records created before
// the cutoff, oldest first. Used to select episode compression batches.
func (s *Store) ListWorkingOlderThan(ctx context.Context, subjectID string, cutoff time.Time) ([]types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+`
		WHERE subject_id = ? AND tier = ? AND created_at < ?
		ORDER BY created_at ASC`, subjectID, string(types.TierWorking), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list working records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// PruneWorking deletes all but the most recent cap working records for the
// subject and returns the number removed.
func (s *Store) PruneWorking(ctx context.Context, subjectID string, cap int) (int, error) {
	return s.pruneWorking(ctx, s.db, subjectID, cap)
}

func (s *Store) pruneWorking(ctx context.Context, ex execer, subjectID string, cap int) (int, error) {
	if cap < 1 {
		return 0, fmt.Errorf("%w: working cap must be at least 1", storage.ErrInvalidInput)
	}

	result, err := ex.ExecContext(ctx, `
		DELETE FROM memory_records
		WHERE subject_id = ? AND tier = ? AND id NOT IN (
			SELECT id FROM memory_records
			WHERE subject_id = ? AND tier = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)`, subjectID, string(types.TierWorking), subjectID, string(types.TierWorking), cap)
	if err != nil {
		return 0, fmt.Errorf("failed to prune working memory: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// RetireRecords deletes the named records. The underlying events survive.
func (s *Store) RetireRecords(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_records WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to retire record %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// FindLongTermByText retrieves a subject's long-term record with exactly
// matching text.
func (s *Store) FindLongTermByText(ctx context.Context, subjectID, text string) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+`
		WHERE subject_id = ? AND tier = ? AND text = ?`,
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
func (s *Store) TouchAccess(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memory_records
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?`, time.Now().UTC(), id)
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
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_records
		WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// AppendTurn writes an event and its 1:1 working record, then prunes the
// working tier to cap, all in one transaction. Either everything persists
// or nothing does.
func (s *Store) AppendTurn(ctx context.Context, event *types.Event, working *types.MemoryRecord, workingCap int) error {
	if event == nil || working == nil {
		return storage.ErrInvalidInput
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	working.Importance = types.ClampImportance(working.Importance)
	if err := working.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin turn transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := s.putRecord(ctx, tx, working); err != nil {
		return err
	}
	if _, err := s.pruneWorking(ctx, tx, event.SubjectID, workingCap); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn transaction: %w", err)
	}
	return nil
}

const selectRecord = `
	SELECT id, subject_id, tier, text, importance, embedding, expires_at, source_event_ids, metadata, created_at, last_accessed_at, access_count
	FROM memory_records`

func scanRecord(row rowScanner) (*types.MemoryRecord, error) {
	var (
		record    types.MemoryRecord
		tier      string
		embedding sql.NullString
		expiresAt sql.NullTime
		sources   sql.NullString
		metadata  sql.NullString
	)
	err := row.Scan(&record.ID, &record.SubjectID, &tier, &record.Text, &record.Importance,
		&embedding, &expiresAt, &sources, &metadata,
		&record.CreatedAt, &record.LastAccessedAt, &record.AccessCount)
	if err != nil {
		return nil, err
	}

	record.Tier = types.MemoryTier(tier)
	if expiresAt.Valid {
		t := expiresAt.Time
		record.ExpiresAt = &t
	}
	if err := unmarshalJSON(embedding, &record.Embedding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	if err := unmarshalJSON(sources, &record.SourceEventIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source event ids: %w", err)
	}
	if err := unmarshalJSON(metadata, &record.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
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
