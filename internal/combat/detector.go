package combat

import (
	"strings"

	"github.com/fernwright/questweaver/pkg/types"
)

// Detection is the signal that an action should start combat, carrying
// the roster the encounter initializes with.
type Detection struct {
	Enemies []EnemySpec
	Context types.EncounterContext
}

// Detector decides whether a player action starts combat. The detection
// signal is external to the state machine; implementations range from
// keyword heuristics to model-driven classifiers.
type Detector interface {
	Detect(actionText string) (*Detection, bool)
}

// keywordDetector is the default heuristic detector: combat verbs start
// a small patrol encounter, ambush phrasing starts an ambush.
type keywordDetector struct{}

// NewKeywordDetector returns the default heuristic detector.
func NewKeywordDetector() Detector {
	return keywordDetector{}
}

var combatVerbs = []string{"attack", "fight", "strike", "charge", "ambush", "battle"}

func (keywordDetector) Detect(actionText string) (*Detection, bool) {
	lower := strings.ToLower(actionText)

	triggered := false
	for _, verb := range combatVerbs {
		if strings.Contains(lower, verb) {
			triggered = true
			break
		}
	}
	if !triggered {
		return nil, false
	}

	context := types.ContextPatrol
	if strings.Contains(lower, "ambush") {
		context = types.ContextAmbush
	}
	return &Detection{
		Enemies: []EnemySpec{
			{Name: "Bandit", HP: 8, DexModifier: 1},
			{Name: "Bandit Archer", HP: 6, DexModifier: 2, Ranged: true},
		},
		Context: context,
	}, true
}
