package types

import (
	"fmt"
	"strings"
	"time"
)

// CacheTier identifies which cache layer answered a request, if any.
type CacheTier string

const (
	CacheTierExact    CacheTier = "exact"
	CacheTierSemantic CacheTier = "semantic"
	CacheTierStatic   CacheTier = "static"
	CacheTierMiss     CacheTier = "miss"
)

// TurnRequest is the inbound action boundary: one player action to be
// processed as a single narrative turn.
type TurnRequest struct {
	// SubjectID is the character taking the action.
	SubjectID string `json:"subject_id"`

	// ActionText is the player's freeform action description.
	ActionText string `json:"action_text"`

	// SessionID groups turns into a play session.
	SessionID string `json:"session_id"`

	// ExplicitRoll is a player-supplied d20 result, used for the player's
	// own initiative or skill rolls. The system never rolls on the
	// player's behalf.
	ExplicitRoll *int `json:"explicit_roll,omitempty"`
}

// Validate checks that the request is processable. An out-of-range
// explicit roll is rejected before any state is mutated.
func (r *TurnRequest) Validate() error {
	if strings.TrimSpace(r.SubjectID) == "" {
		return fmt.Errorf("turn request: subject id is required")
	}
	if strings.TrimSpace(r.ActionText) == "" {
		return fmt.Errorf("turn request: action text is required")
	}
	if r.ExplicitRoll != nil {
		if err := ValidateRoll(*r.ExplicitRoll); err != nil {
			return fmt.Errorf("turn request: %w", err)
		}
	}
	return nil
}

// ValidationSnapshot is the slice of a validation result exposed on the
// outbound turn boundary.
type ValidationSnapshot struct {
	Score  int  `json:"score"`
	Passed bool `json:"passed"`
}

// TraceStep records the outcome of one pipeline stage for diagnostics.
type TraceStep struct {
	// Step names the pipeline stage.
	Step string `json:"step"`

	// Outcome is "success", "degraded", "skipped", or "failed".
	Outcome string `json:"outcome"`

	// Detail carries a short human-readable note.
	Detail string `json:"detail,omitempty"`

	// Elapsed is the stage duration.
	Elapsed time.Duration `json:"elapsed"`
}

// TurnResult is the outbound result of one processed turn. The pipeline
// contract is that a result is always produced, even when every fallible
// step degraded.
type TurnResult struct {
	// NarrativeText is the narrative continuation shown to the player.
	NarrativeText string `json:"narrative_text"`

	// SkillCheck is set when the action warranted a skill check.
	SkillCheck *SkillCheckResult `json:"skill_check,omitempty"`

	// Combat is set when an encounter is open or was resolved this turn.
	Combat *CombatEncounter `json:"combat,omitempty"`

	// Validation summarizes the consistency gate's verdict.
	Validation ValidationSnapshot `json:"validation"`

	// CacheTier reports which cache layer served the narrative, or miss.
	CacheTier CacheTier `json:"cache_tier"`

	// Degraded marks results produced through a fallback path.
	Degraded bool `json:"degraded,omitempty"`

	// Trace is the per-step pipeline diagnostic record.
	Trace []TraceStep `json:"trace,omitempty"`
}
