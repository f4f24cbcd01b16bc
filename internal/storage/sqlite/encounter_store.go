package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/pkg/types"
)

// SaveEncounter creates or updates an encounter. The single-open-encounter
// invariant is enforced inside the write transaction: saving an open
// encounter while a different open one exists for the subject fails with
// ErrConflict and nothing is written.
func (s *Store) SaveEncounter(ctx context.Context, encounter *types.CombatEncounter) error {
	if encounter == nil {
		return storage.ErrInvalidInput
	}
	if err := encounter.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	combatants, err := marshalJSON(encounter.InitiativeOrder)
	if err != nil {
		return fmt.Errorf("failed to marshal combatants: %w", err)
	}
	zones, err := marshalJSON(encounter.Zones)
	if err != nil {
		return fmt.Errorf("failed to marshal zones: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin encounter transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if encounter.Status.Open() {
		var open int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM encounters
			WHERE subject_id = ? AND id != ? AND status NOT IN (?, ?, ?)`,
			encounter.SubjectID, encounter.ID,
			string(types.EncounterVictory), string(types.EncounterDefeat), string(types.EncounterFled)).Scan(&open)
		if err != nil {
			return fmt.Errorf("failed to count open encounters: %w", err)
		}
		if open > 0 {
			return fmt.Errorf("%w: subject %s already has an open encounter", storage.ErrConflict, encounter.SubjectID)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO encounters (id, subject_id, status, difficulty, round, turn_index, combatants, zones, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			round = excluded.round,
			turn_index = excluded.turn_index,
			combatants = excluded.combatants,
			zones = excluded.zones,
			updated_at = excluded.updated_at`,
		encounter.ID, encounter.SubjectID, string(encounter.Status), string(encounter.Difficulty),
		encounter.Round, encounter.TurnIndex, combatants, zones,
		encounter.CreatedAt.UTC(), encounter.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save encounter: %w", err)
	}

	return tx.Commit()
}

// GetEncounter retrieves an encounter by ID.
func (s *Store) GetEncounter(ctx context.Context, id string) (*types.CombatEncounter, error) {
	row := s.db.QueryRowContext(ctx, selectEncounter+` WHERE id = ?`, id)
	encounter, err := scanEncounter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get encounter: %w", err)
	}
	return encounter, nil
}

// GetOpenEncounter retrieves the subject's open encounter, if any.
func (s *Store) GetOpenEncounter(ctx context.Context, subjectID string) (*types.CombatEncounter, error) {
	row := s.db.QueryRowContext(ctx, selectEncounter+`
		WHERE subject_id = ? AND status NOT IN (?, ?, ?)
		ORDER BY created_at DESC
		LIMIT 1`,
		subjectID, string(types.EncounterVictory), string(types.EncounterDefeat), string(types.EncounterFled))

	encounter, err := scanEncounter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open encounter: %w", err)
	}
	return encounter, nil
}

// CountOpenEncounters returns how many open encounters the subject has.
func (s *Store) CountOpenEncounters(ctx context.Context, subjectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM encounters
		WHERE subject_id = ? AND status NOT IN (?, ?, ?)`,
		subjectID, string(types.EncounterVictory), string(types.EncounterDefeat), string(types.EncounterFled)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open encounters: %w", err)
	}
	return count, nil
}

const selectEncounter = `
	SELECT id, subject_id, status, difficulty, round, turn_index, combatants, zones, created_at, updated_at
	FROM encounters`

func scanEncounter(row rowScanner) (*types.CombatEncounter, error) {
	var (
		encounter  types.CombatEncounter
		status     string
		difficulty string
		combatants sql.NullString
		zones      sql.NullString
	)
	err := row.Scan(&encounter.ID, &encounter.SubjectID, &status, &difficulty,
		&encounter.Round, &encounter.TurnIndex, &combatants, &zones,
		&encounter.CreatedAt, &encounter.UpdatedAt)
	if err != nil {
		return nil, err
	}

	encounter.Status = types.EncounterStatus(status)
	encounter.Difficulty = types.DifficultyTier(difficulty)
	if err := unmarshalJSON(combatants, &encounter.InitiativeOrder); err != nil {
		return nil, fmt.Errorf("failed to unmarshal combatants: %w", err)
	}
	if err := unmarshalJSON(zones, &encounter.Zones); err != nil {
		return nil, fmt.Errorf("failed to unmarshal zones: %w", err)
	}
	return &encounter, nil
}
