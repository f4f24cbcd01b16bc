// Package skillcheck resolves dice checks deterministically. The resolver
// has no dependency on the generative model: it is a pure function of the
// subject's sheet and a random source, with the source injectable so
// tests control every roll.
package skillcheck

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/pkg/types"
)

// Roller produces d20 results.
type Roller interface {
	// D20 returns a uniform value in [1,20].
	D20() int
}

// RandRoller is the production Roller backed by math/rand.
type RandRoller struct {
	rng *rand.Rand
}

// NewRandRoller creates a roller seeded from the clock.
func NewRandRoller() *RandRoller {
	return &RandRoller{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// D20 returns a uniform value in [1,20].
func (r *RandRoller) D20() int {
	return r.rng.Intn(20) + 1
}

var _ Roller = (*RandRoller)(nil)

// Options control how a check is rolled.
type Options struct {
	Advantage    bool
	Disadvantage bool

	// ExplicitRoll, when non-nil, is the player's own die result. The
	// system never rolls on the player's behalf when one is supplied.
	ExplicitRoll *int
}

// Resolver resolves skill checks against subject sheets and appends each
// result to the check history.
type Resolver struct {
	subjects storage.SubjectStore
	history  storage.SkillCheckStore
	roller   Roller
	now      func() time.Time
}

// NewResolver creates a resolver. history may be nil to skip persistence.
func NewResolver(subjects storage.SubjectStore, history storage.SkillCheckStore, roller Roller) *Resolver {
	if roller == nil {
		roller = NewRandRoller()
	}
	return &Resolver{
		subjects: subjects,
		history:  history,
		roller:   roller,
		now:      time.Now,
	}
}

// Resolve rolls the check for the subject. Advantage rolls twice and
// keeps the max, disadvantage keeps the min; both or neither set rolls
// once. Total = roll + ability modifier + proficiency bonus (proficient
// skills only). Success iff total >= dc.
func (r *Resolver) Resolve(ctx context.Context, subjectID string, skill types.SkillType, dc int, opts Options) (*types.SkillCheckResult, error) {
	if !skill.Valid() {
		return nil, fmt.Errorf("%w: unknown skill %q", storage.ErrInvalidInput, skill)
	}
	if opts.ExplicitRoll != nil {
		if err := types.ValidateRoll(*opts.ExplicitRoll); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
	}

	sheet, err := r.subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("load subject sheet: %w", err)
	}

	roll, rolls := r.roll(opts)

	modifiers := types.ModifierBreakdown{
		Ability: types.AbilityModifier(sheet.Stat(types.SkillAbility[skill])),
	}
	if sheet.ProficientIn(skill) {
		modifiers.Proficiency = types.ProficiencyBonus(sheet.Level)
	}

	total := roll + modifiers.Total()
	result := &types.SkillCheckResult{
		ID:           uuid.New().String(),
		SubjectID:    subjectID,
		Skill:        skill,
		DC:           dc,
		Roll:         roll,
		Rolls:        rolls,
		Modifiers:    modifiers,
		Total:        total,
		Success:      total >= dc,
		Advantage:    opts.Advantage,
		Disadvantage: opts.Disadvantage,
		CreatedAt:    r.now(),
	}

	if r.history != nil {
		if err := r.history.AppendSkillCheck(ctx, result); err != nil {
			return nil, fmt.Errorf("append skill check: %w", err)
		}
	}
	return result, nil
}

// roll produces the die results per the options. An explicit player roll
// bypasses the random source entirely.
func (r *Resolver) roll(opts Options) (int, []int) {
	if opts.ExplicitRoll != nil {
		return *opts.ExplicitRoll, []int{*opts.ExplicitRoll}
	}

	// Both flags set cancel out, as does neither.
	if opts.Advantage == opts.Disadvantage {
		roll := r.roller.D20()
		return roll, []int{roll}
	}

	first, second := r.roller.D20(), r.roller.D20()
	rolls := []int{first, second}
	if opts.Advantage {
		return max(first, second), rolls
	}
	return min(first, second), rolls
}
