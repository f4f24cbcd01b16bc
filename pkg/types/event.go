// Package types defines the core domain model for Questweaver: gameplay
// events, tiered memory records, skill checks, combat encounters, and the
// validation results that gate generated narrative.
package types

import (
	"fmt"
	"strings"
	"time"
)

// EventType classifies a gameplay event.
type EventType string

const (
	// EventGoalCompletion records a completed real-world wellness goal.
	EventGoalCompletion EventType = "goal_completion"

	// EventQuestStart records the start of a quest.
	EventQuestStart EventType = "quest_start"

	// EventQuestComplete records a successfully finished quest.
	EventQuestComplete EventType = "quest_complete"

	// EventQuestFail records a failed quest.
	EventQuestFail EventType = "quest_fail"

	// EventNPCInteraction records dialogue or interaction with an NPC.
	EventNPCInteraction EventType = "npc_interaction"

	// EventDMInteraction records a freeform exchange with the narrator.
	EventDMInteraction EventType = "dm_interaction"

	// EventChoiceMade records a meaningful player decision.
	EventChoiceMade EventType = "choice_made"

	// EventLevelUp records a character level increase.
	EventLevelUp EventType = "level_up"

	// EventCombatStart records the beginning of a combat encounter.
	EventCombatStart EventType = "combat_start"

	// EventCombatEnd records the resolution of a combat encounter.
	EventCombatEnd EventType = "combat_end"
)

// highSignalEvents are event types that carry more narrative weight than
// routine interactions and receive a retrieval bonus.
var highSignalEvents = map[EventType]bool{
	EventGoalCompletion: true,
	EventQuestComplete:  true,
	EventQuestFail:      true,
	EventLevelUp:        true,
	EventCombatEnd:      true,
}

// IsHighSignal reports whether the event type is considered high-signal
// for retrieval scoring.
func (t EventType) IsHighSignal() bool {
	return highSignalEvents[t]
}

// Valid reports whether the event type is one of the known types.
func (t EventType) Valid() bool {
	switch t {
	case EventGoalCompletion, EventQuestStart, EventQuestComplete,
		EventQuestFail, EventNPCInteraction, EventDMInteraction,
		EventChoiceMade, EventLevelUp, EventCombatStart, EventCombatEnd:
		return true
	}
	return false
}

// StatCode identifies a character ability score.
type StatCode string

const (
	StatStrength     StatCode = "strength"
	StatDexterity    StatCode = "dexterity"
	StatConstitution StatCode = "constitution"
	StatIntelligence StatCode = "intelligence"
	StatWisdom       StatCode = "wisdom"
	StatCharisma     StatCode = "charisma"
)

// Event is an immutable gameplay fact. Events are never mutated or deleted;
// aged-out events are superseded by compression into an episode record but
// remain the source of truth for every memory tier.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// SubjectID is the character this event belongs to.
	SubjectID string `json:"subject_id"`

	// Type classifies the event.
	Type EventType `json:"type"`

	// Description is the human-readable account of what happened.
	Description string `json:"description"`

	// Participants lists named characters involved in the event.
	Participants []string `json:"participants,omitempty"`

	// StatDeltas captures ability score changes caused by the event.
	StatDeltas map[StatCode]int `json:"stat_deltas,omitempty"`

	// QuestID links the event to a quest, when applicable.
	QuestID string `json:"quest_id,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Context holds free-form metadata attached at creation time.
	Context map[string]string `json:"context,omitempty"`
}

// Validate checks that the event is well-formed for persistence.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.SubjectID) == "" {
		return fmt.Errorf("event: subject id is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("event: unknown type %q", e.Type)
	}
	if strings.TrimSpace(e.Description) == "" {
		return fmt.Errorf("event: description is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event: timestamp is required")
	}
	return nil
}

// MentionsParticipant reports whether the named character appears in the
// event's participant list. Matching is case-insensitive.
func (e *Event) MentionsParticipant(name string) bool {
	for _, p := range e.Participants {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}
