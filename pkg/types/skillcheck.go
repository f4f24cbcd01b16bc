package types

import (
	"fmt"
	"time"
)

// SkillType identifies a checkable skill.
type SkillType string

const (
	SkillAthletics     SkillType = "athletics"
	SkillAcrobatics    SkillType = "acrobatics"
	SkillStealth       SkillType = "stealth"
	SkillPerception    SkillType = "perception"
	SkillInsight       SkillType = "insight"
	SkillSurvival      SkillType = "survival"
	SkillArcana        SkillType = "arcana"
	SkillInvestigation SkillType = "investigation"
	SkillPersuasion    SkillType = "persuasion"
	SkillIntimidation  SkillType = "intimidation"
	SkillDeception     SkillType = "deception"
	SkillPerformance   SkillType = "performance"
)

// SkillAbility maps each skill to the ability score that modifies it.
var SkillAbility = map[SkillType]StatCode{
	SkillAthletics:     StatStrength,
	SkillAcrobatics:    StatDexterity,
	SkillStealth:       StatDexterity,
	SkillPerception:    StatWisdom,
	SkillInsight:       StatWisdom,
	SkillSurvival:      StatWisdom,
	SkillArcana:        StatIntelligence,
	SkillInvestigation: StatIntelligence,
	SkillPersuasion:    StatCharisma,
	SkillIntimidation:  StatCharisma,
	SkillDeception:     StatCharisma,
	SkillPerformance:   StatCharisma,
}

// Valid reports whether the skill has a known ability mapping.
func (s SkillType) Valid() bool {
	_, ok := SkillAbility[s]
	return ok
}

// ModifierBreakdown itemizes the bonuses applied to a skill check roll.
type ModifierBreakdown struct {
	// Ability is the modifier derived from the governing ability score.
	Ability int `json:"ability"`

	// Proficiency is the proficiency bonus, zero when not proficient.
	Proficiency int `json:"proficiency"`
}

// Total returns the combined modifier.
func (m ModifierBreakdown) Total() int {
	return m.Ability + m.Proficiency
}

// SkillCheckResult records a resolved skill check. Immutable once computed;
// persisted to an append-only history.
type SkillCheckResult struct {
	// ID uniquely identifies the check.
	ID string `json:"id"`

	// SubjectID is the character that attempted the check.
	SubjectID string `json:"subject_id"`

	// Skill is the skill that was tested.
	Skill SkillType `json:"skill"`

	// DC is the difficulty class the total must meet or exceed.
	DC int `json:"dc"`

	// Roll is the die result that counted (after advantage/disadvantage).
	Roll int `json:"roll"`

	// Rolls lists every die rolled, in order.
	Rolls []int `json:"rolls"`

	// Modifiers itemizes the bonuses added to the roll.
	Modifiers ModifierBreakdown `json:"modifiers"`

	// Total is Roll plus all modifiers.
	Total int `json:"total"`

	// Success reports whether Total met the DC.
	Success bool `json:"success"`

	// Advantage and Disadvantage record the flags the check was made with.
	Advantage    bool `json:"advantage"`
	Disadvantage bool `json:"disadvantage"`

	// CreatedAt is when the check was resolved.
	CreatedAt time.Time `json:"created_at"`
}

// ValidateRoll checks a player-supplied d20 value. Out-of-range rolls are
// rejected before any state is mutated.
func ValidateRoll(roll int) error {
	if roll < 1 || roll > 20 {
		return fmt.Errorf("roll %d out of range: must be between 1 and 20", roll)
	}
	return nil
}

// AbilityModifier derives the modifier for an ability score.
// Score 10-11 is +0, 14 is +2, 7 is -2.
func AbilityModifier(score int) int {
	return score/2 - 5
}

// ProficiencyBonus returns the proficiency bonus for a character level.
func ProficiencyBonus(level int) int {
	if level < 1 {
		level = 1
	}
	return 2 + (level-1)/4
}
