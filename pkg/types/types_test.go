package types

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbilityModifier(t *testing.T) {
	tests := []struct {
		score int
		want  int
	}{
		{3, -4},
		{7, -2},
		{8, -1},
		{9, -1},
		{10, 0},
		{11, 0},
		{12, 1},
		{14, 2},
		{17, 3},
		{18, 4},
		{20, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AbilityModifier(tt.score), "score %d", tt.score)
	}
}

func TestProficiencyBonus(t *testing.T) {
	tests := []struct {
		level int
		want  int
	}{
		{0, 2},
		{1, 2},
		{4, 2},
		{5, 3},
		{8, 3},
		{9, 4},
		{13, 5},
		{17, 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProficiencyBonus(tt.level), "level %d", tt.level)
	}
}

func TestValidateRoll(t *testing.T) {
	assert.NoError(t, ValidateRoll(1))
	assert.NoError(t, ValidateRoll(20))
	assert.Error(t, ValidateRoll(0))
	assert.Error(t, ValidateRoll(21))
	assert.Error(t, ValidateRoll(-3))
}

func TestClampImportance(t *testing.T) {
	assert.Equal(t, 0.0, ClampImportance(-0.5))
	assert.Equal(t, 0.0, ClampImportance(math.NaN()))
	assert.Equal(t, 0.5, ClampImportance(0.5))
	assert.Equal(t, 1.0, ClampImportance(1.7))
}

func TestEventValidate(t *testing.T) {
	valid := &Event{
		SubjectID:   "subject-1",
		Type:        EventQuestComplete,
		Description: "finished the harvest quest",
		Timestamp:   time.Now(),
	}
	require.NoError(t, valid.Validate())

	missingSubject := *valid
	missingSubject.SubjectID = " "
	assert.Error(t, missingSubject.Validate())

	unknownType := *valid
	unknownType.Type = "teleportation"
	assert.Error(t, unknownType.Validate())

	noTimestamp := *valid
	noTimestamp.Timestamp = time.Time{}
	assert.Error(t, noTimestamp.Validate())
}

func TestEventHighSignal(t *testing.T) {
	assert.True(t, EventQuestComplete.IsHighSignal())
	assert.True(t, EventCombatEnd.IsHighSignal())
	assert.False(t, EventDMInteraction.IsHighSignal())
	assert.False(t, EventNPCInteraction.IsHighSignal())
}

func TestEventMentionsParticipant(t *testing.T) {
	event := &Event{Participants: []string{"Maribel", "Old Thom"}}
	assert.True(t, event.MentionsParticipant("maribel"))
	assert.False(t, event.MentionsParticipant("Rowan"))
}

func TestMemoryRecordValidate(t *testing.T) {
	valid := &MemoryRecord{
		SubjectID:  "subject-1",
		Tier:       TierWorking,
		Text:       "a memory",
		Importance: 0.5,
	}
	require.NoError(t, valid.Validate())

	badTier := *valid
	badTier.Tier = "short_term"
	assert.Error(t, badTier.Validate())

	badImportance := *valid
	badImportance.Importance = 1.2
	assert.Error(t, badImportance.Validate())
}

func TestSummaryWordCount(t *testing.T) {
	summary := &NarrativeSummary{Text: "  the  story   so far "}
	assert.Equal(t, 4, summary.WordCount())
	assert.Zero(t, (&NarrativeSummary{}).WordCount())
}

func TestTurnRequestValidate(t *testing.T) {
	valid := &TurnRequest{SubjectID: "subject-1", ActionText: "look around"}
	require.NoError(t, valid.Validate())

	noAction := &TurnRequest{SubjectID: "subject-1", ActionText: "  "}
	assert.Error(t, noAction.Validate())

	badRoll := 25
	withBadRoll := &TurnRequest{SubjectID: "subject-1", ActionText: "climb", ExplicitRoll: &badRoll}
	assert.Error(t, withBadRoll.Validate())

	goodRoll := 20
	withGoodRoll := &TurnRequest{SubjectID: "subject-1", ActionText: "climb", ExplicitRoll: &goodRoll}
	assert.NoError(t, withGoodRoll.Validate())
}

func TestEncounterStatusLifecycle(t *testing.T) {
	open := []EncounterStatus{EncounterInitializing, EncounterAwaitingInitiative, EncounterActive}
	for _, s := range open {
		assert.True(t, s.Open(), "%s is open", s)
		assert.False(t, s.Terminal())
	}

	terminal := []EncounterStatus{EncounterVictory, EncounterDefeat, EncounterFled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s is terminal", s)
		assert.False(t, s.Open())
	}
}

func TestEncounterValidateRequiresOnePlayer(t *testing.T) {
	encounter := &CombatEncounter{
		SubjectID: "subject-1",
		InitiativeOrder: []Combatant{
			{ID: "player-1", IsPlayer: true},
			{ID: "enemy-1"},
		},
		Zones: map[string]Zone{"player-1": ZoneClose},
	}
	require.NoError(t, encounter.Validate())

	encounter.InitiativeOrder[1].IsPlayer = true
	assert.Error(t, encounter.Validate(), "two player entries are malformed")

	encounter.InitiativeOrder[1].IsPlayer = false
	encounter.Zones["enemy-1"] = "orbit"
	assert.Error(t, encounter.Validate(), "unknown zones are malformed")
}

func TestEncounterHelpers(t *testing.T) {
	encounter := &CombatEncounter{
		TurnIndex: 1,
		InitiativeOrder: []Combatant{
			{ID: "enemy-1", HP: 0, MaxHP: 6},
			{ID: "player-1", IsPlayer: true, HP: 20, MaxHP: 20},
			{ID: "enemy-2", HP: 4, MaxHP: 8},
		},
	}

	player := encounter.Player()
	require.NotNil(t, player)
	assert.Equal(t, "player-1", player.ID)

	current := encounter.Current()
	require.NotNil(t, current)
	assert.True(t, current.IsPlayer)

	assert.Equal(t, 1, encounter.EnemiesRemaining(), "downed enemies do not count")
	assert.True(t, encounter.InitiativeOrder[0].Defeated())
}

func TestSubjectSheetDefaultsAndModifiers(t *testing.T) {
	sheet := &SubjectSheet{
		ID:    "subject-1",
		Name:  "Rowan",
		Level: 1,
		Stats: map[StatCode]int{StatStrength: 14},
		MaxHP: 20,
	}
	require.NoError(t, sheet.Validate())

	assert.Equal(t, 14, sheet.Stat(StatStrength))
	assert.Equal(t, 10, sheet.Stat(StatWisdom), "unset stats default to 10")
	assert.Equal(t, 2, sheet.Modifier(StatStrength))
	assert.Equal(t, 0, sheet.Modifier(StatWisdom))
	assert.False(t, sheet.ProficientIn(SkillStealth))
}

func TestSkillTypeValid(t *testing.T) {
	assert.True(t, SkillAthletics.Valid())
	assert.True(t, SkillPersuasion.Valid())
	assert.False(t, SkillType("basketweaving").Valid())
}
