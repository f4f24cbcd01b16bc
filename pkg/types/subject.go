package types

import (
	"fmt"
	"strings"
	"time"
)

// SubjectSheet is the character sheet for one player character. It holds
// the stats the deterministic systems (skill checks, combat) read.
type SubjectSheet struct {
	// ID uniquely identifies the subject.
	ID string `json:"id"`

	// Name is the character's display name.
	Name string `json:"name"`

	// Level is the character level, starting at 1.
	Level int `json:"level"`

	// Stats maps ability codes to scores.
	Stats map[StatCode]int `json:"stats"`

	// Proficiencies marks the skills the character is proficient in.
	Proficiencies map[SkillType]bool `json:"proficiencies,omitempty"`

	// HP and MaxHP track the character's health.
	HP    int `json:"hp"`
	MaxHP int `json:"max_hp"`

	// CreatedAt and UpdatedAt track the sheet's lifetime.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the sheet is well-formed.
func (s *SubjectSheet) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("subject: id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("subject: name is required")
	}
	if s.Level < 1 {
		return fmt.Errorf("subject: level must be at least 1")
	}
	if s.MaxHP < 1 {
		return fmt.Errorf("subject: max hp must be positive")
	}
	return nil
}

// Stat returns the ability score for the given code, defaulting to 10.
func (s *SubjectSheet) Stat(code StatCode) int {
	if v, ok := s.Stats[code]; ok {
		return v
	}
	return 10
}

// Modifier returns the ability modifier for the given code.
func (s *SubjectSheet) Modifier(code StatCode) int {
	return AbilityModifier(s.Stat(code))
}

// ProficientIn reports whether the character is proficient in the skill.
func (s *SubjectSheet) ProficientIn(skill SkillType) bool {
	return s.Proficiencies[skill]
}
