package combat

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwright/questweaver/internal/storage/storagetest"
	"github.com/fernwright/questweaver/pkg/types"
)

type scriptedRoller struct {
	rolls []int
	next  int
}

func (r *scriptedRoller) D20() int {
	roll := r.rolls[r.next%len(r.rolls)]
	r.next++
	return roll
}

func testPlayer() types.Combatant {
	return types.Combatant{ID: "player-1", Name: "Rowan", IsPlayer: true, DexModifier: 1, HP: 20, MaxHP: 20}
}

func twoEnemyDetection() *Detection {
	return &Detection{
		Context: types.ContextPatrol,
		Enemies: []EnemySpec{
			{Name: "Wolf", HP: 6, DexModifier: 2},
			{Name: "Wolf Alpha", HP: 10, DexModifier: 1},
		},
	}
}

func TestInitializeRollsEnemyInitiativeOnly(t *testing.T) {
	store := storagetest.New()
	machine := NewMachine(store, &scriptedRoller{rolls: []int{13, 7}})

	encounter, err := machine.Initialize(context.Background(), "subject-1", testPlayer(), twoEnemyDetection())
	require.NoError(t, err)

	assert.Equal(t, types.EncounterAwaitingInitiative, encounter.Status)
	assert.Zero(t, encounter.Player().Initiative, "player initiative must stay unrolled")
	for _, c := range encounter.InitiativeOrder {
		if !c.IsPlayer {
			assert.NotZero(t, c.Initiative)
		}
	}
}

func TestInitializeMalformedRosterLeavesNoEncounter(t *testing.T) {
	store := storagetest.New()
	machine := NewMachine(store, nil)

	_, err := machine.Initialize(context.Background(), "subject-1", testPlayer(), &Detection{
		Enemies: []EnemySpec{{Name: "", HP: 5}},
	})
	require.Error(t, err)

	open, err := machine.Open(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.Nil(t, open, "failed initialization must fall back to no encounter")
}

func TestSetPlayerInitiativeSortsTurnOrder(t *testing.T) {
	// Enemies roll 15 and 8 (flat, zero DEX mod); the player supplies 12.
	// Turn order must be enemy(15), player(12), enemy(8).
	store := storagetest.New()
	machine := NewMachine(store, &scriptedRoller{rolls: []int{15, 8}})

	encounter, err := machine.Initialize(context.Background(), "subject-1", testPlayer(), &Detection{
		Context: types.ContextPatrol,
		Enemies: []EnemySpec{
			{Name: "Raider", HP: 8},
			{Name: "Scout", HP: 6},
		},
	})
	require.NoError(t, err)

	active, err := machine.SetPlayerInitiative(context.Background(), encounter.ID, 12)
	require.NoError(t, err)

	assert.Equal(t, types.EncounterActive, active.Status)
	assert.Equal(t, 1, active.Round)
	assert.Equal(t, 0, active.TurnIndex)

	require.Len(t, active.InitiativeOrder, 3)
	assert.Equal(t, 15, active.InitiativeOrder[0].Initiative)
	assert.True(t, active.InitiativeOrder[1].IsPlayer)
	assert.Equal(t, 12, active.InitiativeOrder[1].Initiative)
	assert.Equal(t, 8, active.InitiativeOrder[2].Initiative)
}

func TestAdvanceTurnWrapsIntoNewRound(t *testing.T) {
	store := storagetest.New()
	machine := NewMachine(store, &scriptedRoller{rolls: []int{15, 8}})

	encounter, err := machine.Initialize(context.Background(), "subject-1", testPlayer(), twoEnemyDetection())
	require.NoError(t, err)
	active, err := machine.SetPlayerInitiative(context.Background(), encounter.ID, 12)
	require.NoError(t, err)

	for i := 0; i < len(active.InitiativeOrder)-1; i++ {
		active, err = machine.AdvanceTurn(context.Background(), active.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, active.Round)

	active, err = machine.AdvanceTurn(context.Background(), active.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, active.Round)
	assert.Equal(t, 0, active.TurnIndex)
}

func TestSingleOpenEncounterPerSubject(t *testing.T) {
	store := storagetest.New()
	machine := NewMachine(store, nil)

	_, err := machine.Initialize(context.Background(), "subject-1", testPlayer(), twoEnemyDetection())
	require.NoError(t, err)

	_, err = machine.Initialize(context.Background(), "subject-1", testPlayer(), twoEnemyDetection())
	assert.Error(t, err, "second open encounter must be rejected")
}

func TestAttackZoneRules(t *testing.T) {
	player := testPlayer()
	melee := types.Combatant{ID: "melee-1", Name: "Brute", HP: 8, MaxHP: 8}
	archer := types.Combatant{ID: "archer-1", Name: "Archer", HP: 6, MaxHP: 6, Ranged: true}

	encounter := &types.CombatEncounter{
		ID:              uuid.New().String(),
		SubjectID:       "subject-1",
		Status:          types.EncounterActive,
		InitiativeOrder: []types.Combatant{player, melee, archer},
		Zones: map[string]types.Zone{
			player.ID: types.ZoneClose,
			melee.ID:  types.ZoneNear,
			archer.ID: types.ZoneFar,
		},
	}

	// Melee from near cannot reach a close target.
	assert.Error(t, AttackValid(encounter, melee.ID, player.ID))

	// Ranged from far is valid.
	assert.NoError(t, AttackValid(encounter, archer.ID, player.ID))

	// Shared close zone allows melee.
	encounter.Zones[melee.ID] = types.ZoneClose
	assert.NoError(t, AttackValid(encounter, melee.ID, player.ID))
	assert.NoError(t, AttackValid(encounter, player.ID, melee.ID))
}

func TestApplyDamageResolvesVictoryAndDefeat(t *testing.T) {
	store := storagetest.New()
	machine := NewMachine(store, &scriptedRoller{rolls: []int{15, 8}})

	encounter, err := machine.Initialize(context.Background(), "subject-1", testPlayer(), twoEnemyDetection())
	require.NoError(t, err)
	active, err := machine.SetPlayerInitiative(context.Background(), encounter.ID, 12)
	require.NoError(t, err)

	for _, c := range active.InitiativeOrder {
		if !c.IsPlayer {
			active, err = machine.ApplyDamage(context.Background(), active.ID, c.ID, c.MaxHP)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, types.EncounterVictory, active.Status)

	// A fresh encounter can now open, and the player going down ends it
	// in defeat.
	encounter, err = machine.Initialize(context.Background(), "subject-1", testPlayer(), twoEnemyDetection())
	require.NoError(t, err)
	active, err = machine.SetPlayerInitiative(context.Background(), encounter.ID, 12)
	require.NoError(t, err)

	active, err = machine.ApplyDamage(context.Background(), active.ID, active.Player().ID, 25)
	require.NoError(t, err)
	assert.Equal(t, types.EncounterDefeat, active.Status)
}

func TestFleeResolvesEncounter(t *testing.T) {
	store := storagetest.New()
	machine := NewMachine(store, &scriptedRoller{rolls: []int{15, 8}})

	encounter, err := machine.Initialize(context.Background(), "subject-1", testPlayer(), twoEnemyDetection())
	require.NoError(t, err)
	active, err := machine.SetPlayerInitiative(context.Background(), encounter.ID, 12)
	require.NoError(t, err)

	unchanged, err := machine.Flee(context.Background(), active.ID, false)
	require.NoError(t, err)
	assert.Equal(t, types.EncounterActive, unchanged.Status)

	fled, err := machine.Flee(context.Background(), active.ID, true)
	require.NoError(t, err)
	assert.Equal(t, types.EncounterFled, fled.Status)
}

func TestEnsureInvariantResetsDoubleOpen(t *testing.T) {
	store := storagetest.New()
	machine := NewMachine(store, nil)

	for i := 0; i < 2; i++ {
		store.ForceSaveEncounter(&types.CombatEncounter{
			ID:        uuid.New().String(),
			SubjectID: "subject-1",
			Status:    types.EncounterActive,
			InitiativeOrder: []types.Combatant{
				{ID: "player-1", IsPlayer: true, HP: 10, MaxHP: 10},
			},
			Zones: map[string]types.Zone{"player-1": types.ZoneClose},
		})
	}

	err := machine.EnsureInvariant(context.Background(), "subject-1")
	assert.ErrorIs(t, err, ErrEncounterInvariant)

	open, err := machine.Open(context.Background(), "subject-1")
	require.NoError(t, err)
	assert.Nil(t, open, "invariant reset must leave no open encounter")
}

func TestInitialZonePlacement(t *testing.T) {
	meleeSpec := EnemySpec{Name: "Brute", HP: 8}
	rangedSpec := EnemySpec{Name: "Archer", HP: 6, Ranged: true}

	assert.Equal(t, types.ZoneClose, initialZone(meleeSpec, types.ContextAmbush, 0))
	assert.Equal(t, types.ZoneNear, initialZone(meleeSpec, types.ContextAmbush, 1))
	assert.Equal(t, types.ZoneNear, initialZone(meleeSpec, types.ContextPatrol, 0))
	assert.Equal(t, types.ZoneNear, initialZone(rangedSpec, types.ContextAmbush, 0))
	assert.Equal(t, types.ZoneFar, initialZone(rangedSpec, types.ContextPatrol, 0))
}

func TestRosterDifficulty(t *testing.T) {
	assert.Equal(t, types.DifficultyEasy, rosterDifficulty([]EnemySpec{{Name: "Rat", HP: 4}}, 20))
	assert.Equal(t, types.DifficultyMedium, rosterDifficulty([]EnemySpec{{Name: "Wolf", HP: 25}}, 20))
	assert.Equal(t, types.DifficultyHard, rosterDifficulty([]EnemySpec{{Name: "Troll", HP: 50}}, 20))
}
