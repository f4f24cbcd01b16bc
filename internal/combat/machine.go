// Package combat implements the encounter state machine: initialization
// with rolled enemy initiative, a deferred player initiative roll, a
// sorted turn order, zone-gated attacks, and terminal resolution. All
// encounter mutation flows through the Machine so the single open
// encounter invariant is enforced in one place.
package combat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fernwright/questweaver/internal/skillcheck"
	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/pkg/types"
)

// ErrEncounterInvariant marks a detected violation of the single open
// encounter invariant. Fatal for the subject's combat state; the combat
// subsystem resets to no encounter.
var ErrEncounterInvariant = errors.New("encounter invariant violation")

// ErrNotYourTurn is returned for actions attempted outside the acting
// combatant's turn.
var ErrNotYourTurn = errors.New("not this combatant's turn")

// Machine drives encounter lifecycles.
type Machine struct {
	store  storage.EncounterStore
	roller skillcheck.Roller
	now    func() time.Time
}

// NewMachine creates a combat machine. roller may be nil for the default
// clock-seeded source.
func NewMachine(store storage.EncounterStore, roller skillcheck.Roller) *Machine {
	if roller == nil {
		roller = skillcheck.NewRandRoller()
	}
	return &Machine{
		store:  store,
		roller: roller,
		now:    time.Now,
	}
}

// Open returns the subject's open encounter, or nil when none exists.
func (m *Machine) Open(ctx context.Context, subjectID string) (*types.CombatEncounter, error) {
	encounter, err := m.store.GetOpenEncounter(ctx, subjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return encounter, err
}

// Initialize builds a new encounter from the detected roster, rolls
// initiative for every non-player combatant, and leaves the encounter
// awaiting the player's own roll. Malformed enemy data fails before any
// state persists, so a broken detection never leaves a half-built
// encounter occupying the subject's open slot.
func (m *Machine) Initialize(ctx context.Context, subjectID string, player types.Combatant, detection *Detection) (*types.CombatEncounter, error) {
	if err := validateRoster(detection.Enemies); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	player.IsPlayer = true
	if player.ID == "" {
		player.ID = subjectID
	}

	now := m.now()
	encounter := &types.CombatEncounter{
		ID:         uuid.New().String(),
		SubjectID:  subjectID,
		Status:     types.EncounterInitializing,
		Difficulty: rosterDifficulty(detection.Enemies, player.MaxHP),
		Zones:      map[string]types.Zone{player.ID: types.ZoneClose},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	encounter.InitiativeOrder = append(encounter.InitiativeOrder, player)
	for i, spec := range detection.Enemies {
		enemy := types.Combatant{
			ID:          uuid.New().String(),
			Name:        spec.Name,
			Initiative:  m.roller.D20() + spec.DexModifier,
			DexModifier: spec.DexModifier,
			HP:          spec.HP,
			MaxHP:       spec.HP,
			Ranged:      spec.Ranged,
		}
		encounter.InitiativeOrder = append(encounter.InitiativeOrder, enemy)
		encounter.Zones[enemy.ID] = initialZone(spec, detection.Context, i)
	}

	encounter.Status = types.EncounterAwaitingInitiative
	if err := encounter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if err := m.store.SaveEncounter(ctx, encounter); err != nil {
		return nil, fmt.Errorf("save encounter: %w", err)
	}
	return encounter, nil
}

// SetPlayerInitiative records the player's own initiative roll and locks
// in the turn order: descending initiative, ties broken by higher DEX
// modifier, then stable order.
func (m *Machine) SetPlayerInitiative(ctx context.Context, encounterID string, initiative int) (*types.CombatEncounter, error) {
	encounter, err := m.store.GetEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if encounter.Status != types.EncounterAwaitingInitiative {
		return nil, fmt.Errorf("%w: encounter is %s, not awaiting initiative", storage.ErrInvalidInput, encounter.Status)
	}

	encounter.Player().Initiative = initiative
	sort.SliceStable(encounter.InitiativeOrder, func(i, j int) bool {
		a, b := encounter.InitiativeOrder[i], encounter.InitiativeOrder[j]
		if a.Initiative != b.Initiative {
			return a.Initiative > b.Initiative
		}
		return a.DexModifier > b.DexModifier
	})

	encounter.Status = types.EncounterActive
	encounter.Round = 1
	encounter.TurnIndex = 0
	encounter.UpdatedAt = m.now()

	if err := m.store.SaveEncounter(ctx, encounter); err != nil {
		return nil, fmt.Errorf("save encounter: %w", err)
	}
	return encounter, nil
}

// AdvanceTurn moves to the next combatant. Wrapping past the last slot
// starts a new round.
func (m *Machine) AdvanceTurn(ctx context.Context, encounterID string) (*types.CombatEncounter, error) {
	encounter, err := m.activeEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	encounter.TurnIndex++
	if encounter.TurnIndex >= len(encounter.InitiativeOrder) {
		encounter.TurnIndex = 0
		encounter.Round++
	}
	encounter.UpdatedAt = m.now()

	if err := m.store.SaveEncounter(ctx, encounter); err != nil {
		return nil, fmt.Errorf("save encounter: %w", err)
	}
	return encounter, nil
}

// Move changes a combatant's zone.
func (m *Machine) Move(ctx context.Context, encounterID, combatantID string, zone types.Zone) (*types.CombatEncounter, error) {
	if !zone.Valid() {
		return nil, fmt.Errorf("%w: unknown zone %q", storage.ErrInvalidInput, zone)
	}
	encounter, err := m.activeEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if _, ok := encounter.Zones[combatantID]; !ok {
		return nil, fmt.Errorf("%w: combatant %s not in encounter", storage.ErrInvalidInput, combatantID)
	}

	encounter.Zones[combatantID] = zone
	encounter.UpdatedAt = m.now()

	if err := m.store.SaveEncounter(ctx, encounter); err != nil {
		return nil, fmt.Errorf("save encounter: %w", err)
	}
	return encounter, nil
}

// AttackValid reports whether attacker may strike target given their
// zones: melee needs a shared close zone, ranged attackers reach near
// and far.
func AttackValid(encounter *types.CombatEncounter, attackerID, targetID string) error {
	attacker := findCombatant(encounter, attackerID)
	target := findCombatant(encounter, targetID)
	if attacker == nil || target == nil {
		return fmt.Errorf("%w: unknown combatant", storage.ErrInvalidInput)
	}
	if target.Defeated() {
		return fmt.Errorf("%w: target %s is already down", storage.ErrInvalidInput, target.Name)
	}

	attackerZone := encounter.Zones[attackerID]
	targetZone := encounter.Zones[targetID]

	if attacker.Ranged {
		if attackerZone == types.ZoneNear || attackerZone == types.ZoneFar {
			return nil
		}
		return fmt.Errorf("%w: ranged attack invalid from %s zone", storage.ErrInvalidInput, attackerZone)
	}
	if attackerZone == types.ZoneClose && targetZone == types.ZoneClose {
		return nil
	}
	return fmt.Errorf("%w: melee attack needs both combatants in close zone", storage.ErrInvalidInput)
}

// ApplyDamage reduces the target's HP and resolves the encounter when a
// side is fully defeated: victory when every enemy is down, defeat when
// the player is.
func (m *Machine) ApplyDamage(ctx context.Context, encounterID, targetID string, amount int) (*types.CombatEncounter, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: negative damage", storage.ErrInvalidInput)
	}
	encounter, err := m.activeEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	target := findCombatant(encounter, targetID)
	if target == nil {
		return nil, fmt.Errorf("%w: combatant %s not in encounter", storage.ErrInvalidInput, targetID)
	}
	target.HP -= amount
	if target.HP < 0 {
		target.HP = 0
	}

	if encounter.EnemiesRemaining() == 0 {
		encounter.Status = types.EncounterVictory
	} else if encounter.Player().Defeated() {
		encounter.Status = types.EncounterDefeat
	}
	encounter.UpdatedAt = m.now()

	if err := m.store.SaveEncounter(ctx, encounter); err != nil {
		return nil, fmt.Errorf("save encounter: %w", err)
	}
	return encounter, nil
}

// Flee resolves the encounter as fled after a successful disengage. A
// failed disengage leaves the encounter untouched; the caller narrates
// the consequence.
func (m *Machine) Flee(ctx context.Context, encounterID string, success bool) (*types.CombatEncounter, error) {
	encounter, err := m.activeEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if !success {
		return encounter, nil
	}

	encounter.Status = types.EncounterFled
	encounter.UpdatedAt = m.now()

	if err := m.store.SaveEncounter(ctx, encounter); err != nil {
		return nil, fmt.Errorf("save encounter: %w", err)
	}
	return encounter, nil
}

// EnsureInvariant verifies the subject has at most one open encounter.
// On violation every open encounter is force-closed as fled and
// ErrEncounterInvariant is returned so the caller can report the reset.
func (m *Machine) EnsureInvariant(ctx context.Context, subjectID string) error {
	count, err := m.store.CountOpenEncounters(ctx, subjectID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return nil
	}

	log.Printf("combat: subject %s has %d open encounters, resetting", subjectID, count)
	for {
		encounter, err := m.store.GetOpenEncounter(ctx, subjectID)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return err
		}
		encounter.Status = types.EncounterFled
		encounter.UpdatedAt = m.now()
		if err := m.store.SaveEncounter(ctx, encounter); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: subject %s had %d open encounters", ErrEncounterInvariant, subjectID, count)
}

// activeEncounter loads an encounter and checks it is in progress.
func (m *Machine) activeEncounter(ctx context.Context, encounterID string) (*types.CombatEncounter, error) {
	encounter, err := m.store.GetEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if encounter.Status != types.EncounterActive {
		return nil, fmt.Errorf("%w: encounter is %s, not active", storage.ErrInvalidInput, encounter.Status)
	}
	return encounter, nil
}

func findCombatant(encounter *types.CombatEncounter, id string) *types.Combatant {
	for i := range encounter.InitiativeOrder {
		if encounter.InitiativeOrder[i].ID == id {
			return &encounter.InitiativeOrder[i]
		}
	}
	return nil
}
