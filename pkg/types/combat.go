package types

import (
	"fmt"
	"strings"
	"time"
)

// Zone is the abstract range band a combatant occupies. Zones govern which
// action types are valid: melee requires a shared close zone, ranged
// attacks are valid at near and far.
type Zone string

const (
	ZoneClose Zone = "close"
	ZoneNear  Zone = "near"
	ZoneFar   Zone = "far"
)

// Valid reports whether the zone is one of the known bands.
func (z Zone) Valid() bool {
	switch z {
	case ZoneClose, ZoneNear, ZoneFar:
		return true
	}
	return false
}

// EncounterStatus is the lifecycle state of a combat encounter.
type EncounterStatus string

const (
	// EncounterInitializing means the enemy roster is being built and
	// non-player initiative has not yet been rolled.
	EncounterInitializing EncounterStatus = "initializing"

	// EncounterAwaitingInitiative means the system has rolled for every
	// non-player combatant and is waiting for the player's own roll.
	EncounterAwaitingInitiative EncounterStatus = "awaiting_initiative"

	// EncounterActive means combat is in progress.
	EncounterActive EncounterStatus = "active"

	// Terminal states.
	EncounterVictory EncounterStatus = "victory"
	EncounterDefeat  EncounterStatus = "defeat"
	EncounterFled    EncounterStatus = "fled"
)

// Terminal reports whether the status is a resolved end state.
func (s EncounterStatus) Terminal() bool {
	switch s {
	case EncounterVictory, EncounterDefeat, EncounterFled:
		return true
	}
	return false
}

// Open reports whether the encounter still occupies the single-active slot
// for its subject. Initializing and awaiting-initiative encounters count,
// so a half-built encounter can never coexist with a live one.
func (s EncounterStatus) Open() bool {
	return !s.Terminal()
}

// DifficultyTier grades an encounter's enemy roster.
type DifficultyTier string

const (
	DifficultyEasy   DifficultyTier = "easy"
	DifficultyMedium DifficultyTier = "medium"
	DifficultyHard   DifficultyTier = "hard"
)

// EncounterContext describes how combat began, which drives initial zone
// placement: ambushers start close or near, patrols start near.
type EncounterContext string

const (
	ContextAmbush EncounterContext = "ambush"
	ContextPatrol EncounterContext = "patrol"
)

// Combatant is one participant in an encounter's turn order.
type Combatant struct {
	// ID uniquely identifies the combatant within the encounter.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// IsPlayer marks the subject's own entry. The system never rolls
	// initiative on the player's behalf.
	IsPlayer bool `json:"is_player"`

	// Initiative is the rolled initiative value. Zero until rolled.
	Initiative int `json:"initiative"`

	// DexModifier breaks initiative ties.
	DexModifier int `json:"dex_modifier"`

	// HP and MaxHP track health. An enemy at 0 HP is defeated.
	HP    int `json:"hp"`
	MaxHP int `json:"max_hp"`

	// Ranged marks combatants that attack at near/far range.
	Ranged bool `json:"ranged"`
}

// Defeated reports whether the combatant is out of the fight.
func (c *Combatant) Defeated() bool {
	return c.HP <= 0
}

// CombatEncounter tracks one combat from initialization to resolution.
// At most one open encounter may exist per subject at any time.
type CombatEncounter struct {
	// ID uniquely identifies the encounter.
	ID string `json:"id"`

	// SubjectID is the player character in the encounter.
	SubjectID string `json:"subject_id"`

	// Status is the lifecycle state.
	Status EncounterStatus `json:"status"`

	// Difficulty grades the enemy roster.
	Difficulty DifficultyTier `json:"difficulty"`

	// Round counts completed cycles through the turn order, starting at 1
	// once combat is in progress.
	Round int `json:"round"`

	// TurnIndex is the position in InitiativeOrder whose turn it is.
	TurnIndex int `json:"turn_index"`

	// InitiativeOrder is the full turn order, sorted descending by
	// initiative once the player's roll is supplied.
	InitiativeOrder []Combatant `json:"initiative_order"`

	// Zones maps combatant ID to current range band.
	Zones map[string]Zone `json:"zones"`

	// CreatedAt and UpdatedAt track the encounter's lifetime.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks structural invariants of the encounter.
func (e *CombatEncounter) Validate() error {
	if strings.TrimSpace(e.SubjectID) == "" {
		return fmt.Errorf("encounter: subject id is required")
	}
	players := 0
	for i := range e.InitiativeOrder {
		if e.InitiativeOrder[i].IsPlayer {
			players++
		}
	}
	if players != 1 {
		return fmt.Errorf("encounter: expected exactly one player combatant, found %d", players)
	}
	for id, zone := range e.Zones {
		if !zone.Valid() {
			return fmt.Errorf("encounter: combatant %s in unknown zone %q", id, zone)
		}
	}
	return nil
}

// Player returns the player's combatant entry, or nil if absent.
func (e *CombatEncounter) Player() *Combatant {
	for i := range e.InitiativeOrder {
		if e.InitiativeOrder[i].IsPlayer {
			return &e.InitiativeOrder[i]
		}
	}
	return nil
}

// Current returns the combatant whose turn it is, or nil before the turn
// order is established.
func (e *CombatEncounter) Current() *Combatant {
	if len(e.InitiativeOrder) == 0 || e.TurnIndex < 0 || e.TurnIndex >= len(e.InitiativeOrder) {
		return nil
	}
	return &e.InitiativeOrder[e.TurnIndex]
}

// EnemiesRemaining counts enemies still standing.
func (e *CombatEncounter) EnemiesRemaining() int {
	remaining := 0
	for i := range e.InitiativeOrder {
		c := &e.InitiativeOrder[i]
		if !c.IsPlayer && !c.Defeated() {
			remaining++
		}
	}
	return remaining
}
