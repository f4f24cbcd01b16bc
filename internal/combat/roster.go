package combat

import (
	"fmt"
	"strings"

	"github.com/fernwright/questweaver/pkg/types"
)

// EnemySpec describes one enemy handed to encounter initialization by
// the detector.
type EnemySpec struct {
	Name        string
	HP          int
	DexModifier int
	Ranged      bool
}

// validateRoster rejects malformed enemy data before any encounter state
// is created.
func validateRoster(enemies []EnemySpec) error {
	if len(enemies) == 0 {
		return fmt.Errorf("roster: no enemies")
	}
	for i, e := range enemies {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("roster: enemy %d has no name", i)
		}
		if e.HP <= 0 {
			return fmt.Errorf("roster: enemy %q has non-positive hp", e.Name)
		}
	}
	return nil
}

// rosterDifficulty grades the roster by total enemy HP relative to the
// player's. Tunable thresholds, not invariants.
func rosterDifficulty(enemies []EnemySpec, playerMaxHP int) types.DifficultyTier {
	total := 0
	for _, e := range enemies {
		total += e.HP
	}
	if playerMaxHP <= 0 {
		playerMaxHP = 1
	}
	ratio := float64(total) / float64(playerMaxHP)
	switch {
	case ratio < 1.0:
		return types.DifficultyEasy
	case ratio < 2.0:
		return types.DifficultyMedium
	default:
		return types.DifficultyHard
	}
}

// initialZone places an enemy when combat begins. Ambushers close in,
// patrols hold at near, and ranged enemies hang back.
func initialZone(enemy EnemySpec, context types.EncounterContext, index int) types.Zone {
	if enemy.Ranged {
		if context == types.ContextAmbush {
			return types.ZoneNear
		}
		return types.ZoneFar
	}
	if context == types.ContextAmbush {
		// Alternate close/near so an ambush doesn't stack every enemy
		// into melee at once.
		if index%2 == 0 {
			return types.ZoneClose
		}
		return types.ZoneNear
	}
	return types.ZoneNear
}
