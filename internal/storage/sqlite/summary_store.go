package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/pkg/types"
)

// GetSummary retrieves the rolling narrative summary for a subject.
func (s *Store) GetSummary(ctx context.Context, subjectID string) (*types.NarrativeSummary, error) {
	var summary types.NarrativeSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT subject_id, text, updated_at FROM summaries WHERE subject_id = ?`,
		subjectID).Scan(&summary.SubjectID, &summary.Text, &summary.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return &summary, nil
}

// PutSummary creates or replaces the subject's summary.
func (s *Store) PutSummary(ctx context.Context, summary *types.NarrativeSummary) error {
	if summary == nil || summary.SubjectID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (subject_id, text, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			text = excluded.text,
			updated_at = excluded.updated_at`,
		summary.SubjectID, summary.Text, summary.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to put summary: %w", err)
	}
	return nil
}
