package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/pkg/types"
)

// GetSubject retrieves a character sheet by ID.
func (s *Store) GetSubject(ctx context.Context, id string) (*types.SubjectSheet, error) {
	var (
		sheet         types.SubjectSheet
		stats         sql.NullString
		proficiencies sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, level, stats, proficiencies, hp, max_hp, created_at, updated_at
		FROM subjects WHERE id = ?`, id).Scan(
		&sheet.ID, &sheet.Name, &sheet.Level, &stats, &proficiencies,
		&sheet.HP, &sheet.MaxHP, &sheet.CreatedAt, &sheet.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}

	if err := unmarshalJSON(stats, &sheet.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
	}
	if err := unmarshalJSON(proficiencies, &sheet.Proficiencies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal proficiencies: %w", err)
	}
	return &sheet, nil
}

// PutSubject creates or updates a character sheet.
func (s *Store) PutSubject(ctx context.Context, sheet *types.SubjectSheet) error {
	if sheet == nil {
		return storage.ErrInvalidInput
	}
	if err := sheet.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	stats, err := marshalJSON(sheet.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	proficiencies, err := marshalJSON(sheet.Proficiencies)
	if err != nil {
		return fmt.Errorf("failed to marshal proficiencies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subjects (id, name, level, stats, proficiencies, hp, max_hp, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			level = excluded.level,
			stats = excluded.stats,
			proficiencies = excluded.proficiencies,
			hp = excluded.hp,
			max_hp = excluded.max_hp,
			updated_at = excluded.updated_at`,
		sheet.ID, sheet.Name, sheet.Level, stats, proficiencies,
		sheet.HP, sheet.MaxHP, sheet.CreatedAt.UTC(), sheet.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to put subject: %w", err)
	}
	return nil
}
