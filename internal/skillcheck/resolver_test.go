package skillcheck

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwright/questweaver/internal/storage/storagetest"
	"github.com/fernwright/questweaver/pkg/types"
)

// scriptedRoller returns a fixed sequence of d20 results.
type scriptedRoller struct {
	rolls []int
	next  int
}

func (r *scriptedRoller) D20() int {
	roll := r.rolls[r.next%len(r.rolls)]
	r.next++
	return roll
}

func newTestResolver(t *testing.T, roller Roller, sheet *types.SubjectSheet) *Resolver {
	t.Helper()
	store := storagetest.New()
	require.NoError(t, store.PutSubject(context.Background(), sheet))
	return NewResolver(store, store, roller)
}

func athleteSheet() *types.SubjectSheet {
	return &types.SubjectSheet{
		ID:    "subject-1",
		Name:  "Rowan",
		Level: 1,
		Stats: map[types.StatCode]int{types.StatStrength: 14},
		HP:    10, MaxHP: 10,
	}
}

func TestResolveAdvantageTakesMax(t *testing.T) {
	resolver := newTestResolver(t, &scriptedRoller{rolls: []int{3, 17}}, athleteSheet())

	result, err := resolver.Resolve(context.Background(), "subject-1", types.SkillAthletics, 10, Options{Advantage: true})
	require.NoError(t, err)

	assert.Equal(t, 17, result.Roll)
	assert.Equal(t, []int{3, 17}, result.Rolls)
}

func TestResolveDisadvantageTakesMin(t *testing.T) {
	resolver := newTestResolver(t, &scriptedRoller{rolls: []int{3, 17}}, athleteSheet())

	result, err := resolver.Resolve(context.Background(), "subject-1", types.SkillAthletics, 10, Options{Disadvantage: true})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Roll)
}

func TestResolveBothFlagsCancelToSingleRoll(t *testing.T) {
	resolver := newTestResolver(t, &scriptedRoller{rolls: []int{11}}, athleteSheet())

	result, err := resolver.Resolve(context.Background(), "subject-1", types.SkillAthletics, 10, Options{Advantage: true, Disadvantage: true})
	require.NoError(t, err)

	assert.Equal(t, 11, result.Roll)
	assert.Len(t, result.Rolls, 1)
}

func TestResolveAthleticsAgainstDC15(t *testing.T) {
	// STR 14 gives +2, no proficiency: roll 14 totals 16 and passes,
	// roll 9 totals 11 and fails.
	tests := []struct {
		roll    int
		total   int
		success bool
	}{
		{roll: 14, total: 16, success: true},
		{roll: 9, total: 11, success: false},
	}

	for _, tt := range tests {
		resolver := newTestResolver(t, &scriptedRoller{rolls: []int{tt.roll}}, athleteSheet())

		result, err := resolver.Resolve(context.Background(), "subject-1", types.SkillAthletics, 15, Options{})
		require.NoError(t, err)

		assert.Equal(t, 2, result.Modifiers.Ability)
		assert.Equal(t, 0, result.Modifiers.Proficiency)
		assert.Equal(t, tt.total, result.Total)
		assert.Equal(t, tt.success, result.Success)
	}
}

func TestResolveProficiencyBonusApplied(t *testing.T) {
	sheet := athleteSheet()
	sheet.Level = 5
	sheet.Proficiencies = map[types.SkillType]bool{types.SkillAthletics: true}
	resolver := newTestResolver(t, &scriptedRoller{rolls: []int{10}}, sheet)

	result, err := resolver.Resolve(context.Background(), "subject-1", types.SkillAthletics, 10, Options{})
	require.NoError(t, err)

	// Level 5 proficiency is +3.
	assert.Equal(t, 3, result.Modifiers.Proficiency)
	assert.Equal(t, 15, result.Total)
}

func TestResolveExplicitRollBypassesRoller(t *testing.T) {
	roll := 18
	resolver := newTestResolver(t, &scriptedRoller{rolls: []int{1}}, athleteSheet())

	result, err := resolver.Resolve(context.Background(), "subject-1", types.SkillAthletics, 15, Options{ExplicitRoll: &roll})
	require.NoError(t, err)

	assert.Equal(t, 18, result.Roll)
	assert.True(t, result.Success)
}

func TestResolveRejectsOutOfRangeExplicitRoll(t *testing.T) {
	roll := 21
	resolver := newTestResolver(t, &scriptedRoller{rolls: []int{1}}, athleteSheet())

	_, err := resolver.Resolve(context.Background(), "subject-1", types.SkillAthletics, 15, Options{ExplicitRoll: &roll})
	assert.Error(t, err)
}

func TestResolvePersistsCheckHistory(t *testing.T) {
	store := storagetest.New()
	require.NoError(t, store.PutSubject(context.Background(), athleteSheet()))
	resolver := NewResolver(store, store, &scriptedRoller{rolls: []int{12}})

	_, err := resolver.Resolve(context.Background(), "subject-1", types.SkillStealth, 10, Options{})
	require.NoError(t, err)

	checks, err := store.ListSkillChecks(context.Background(), "subject-1", 10)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, types.SkillStealth, checks[0].Skill)
}
