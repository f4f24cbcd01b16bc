package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/pkg/types"
)

// AppendSkillCheck durably stores a resolved skill check. The history is
// append-only; results are immutable once computed.
func (s *Store) AppendSkillCheck(ctx context.Context, result *types.SkillCheckResult) error {
	if result == nil || result.ID == "" || result.SubjectID == "" {
		return storage.ErrInvalidInput
	}

	rolls, err := marshalJSON(result.Rolls)
	if err != nil {
		return fmt.Errorf("failed to marshal rolls: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO skill_checks
			(id, subject_id, skill, dc, roll, rolls, mod_ability, mod_prof, total, success, advantage, disadvantage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.SubjectID, string(result.Skill), result.DC, result.Roll, rolls,
		result.Modifiers.Ability, result.Modifiers.Proficiency, result.Total,
		boolToInt(result.Success), boolToInt(result.Advantage), boolToInt(result.Disadvantage),
		result.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append skill check: %w", err)
	}
	return nil
}

// ListSkillChecks retrieves a subject's checks, most recent first.
func (s *Store) ListSkillChecks(ctx context.Context, subjectID string, limit int) ([]types.SkillCheckResult, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, skill, dc, roll, rolls, mod_ability, mod_prof, total, success, advantage, disadvantage, created_at
		FROM skill_checks
		WHERE subject_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list skill checks: %w", err)
	}
	defer rows.Close()

	var results []types.SkillCheckResult
	for rows.Next() {
		var (
			r            types.SkillCheckResult
			skill        string
			rollsJSON    sql.NullString
			success      int
			advantage    int
			disadvantage int
		)
		err := rows.Scan(&r.ID, &r.SubjectID, &skill, &r.DC, &r.Roll, &rollsJSON,
			&r.Modifiers.Ability, &r.Modifiers.Proficiency, &r.Total,
			&success, &advantage, &disadvantage, &r.CreatedAt)
		if err != nil {
			return nil, err
		}
		r.Skill = types.SkillType(skill)
		r.Success = success != 0
		r.Advantage = advantage != 0
		r.Disadvantage = disadvantage != 0
		if err := unmarshalJSON(rollsJSON, &r.Rolls); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rolls: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
