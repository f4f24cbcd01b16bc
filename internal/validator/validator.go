// Package validator implements the consistency gate over generated
// narrative: hard world rules, contradiction checks against retrieved
// history, and tone checks for named characters, combined into a single
// 0-100 score with a configurable pass threshold.
package validator

import (
	"log"
	"strings"

	"github.com/fernwright/questweaver/internal/config"
	"github.com/fernwright/questweaver/pkg/types"
)

// forbiddenOutcomes are hard world rules. Any appearance is a critical
// violation and blocks the content regardless of other scoring.
var forbiddenOutcomes = []string{
	"character death",
	"permanently dies",
	"is dead forever",
	"never wakes up",
	"loses the character",
}

// ContradictionFn detects narrative contradictions between proposed
// content and retrieved history. The heuristic is deliberately pluggable;
// its weights are tunable constants, not invariants.
type ContradictionFn func(content string, history []string) []types.Violation

// Input carries everything one validation pass needs.
type Input struct {
	Content string

	// Subject gives tone checks the character's name and voice context.
	Subject *types.SubjectSheet

	// History is the retrieved context the content must not contradict.
	History []string
}

// Validator scores proposed narrative content.
type Validator struct {
	cfg           config.ValidatorConfig
	contradiction ContradictionFn
}

// New creates a validator. contradiction may be nil for the default
// keyword heuristic.
func New(cfg config.ValidatorConfig, contradiction ContradictionFn) *Validator {
	if contradiction == nil {
		contradiction = DefaultContradictionFn
	}
	return &Validator{cfg: cfg, contradiction: contradiction}
}

// Validate scores the content. It never returns an error: if scoring
// itself breaks, the result is a conservative neutral pass flagged
// low-confidence, so one bad validator run cannot take down the turn.
func (v *Validator) Validate(in Input) *types.ValidationResult {
	result := &types.ValidationResult{Score: 100}

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("validator: scoring panic, neutral pass: %v", r)
				result = &types.ValidationResult{
					Score:         v.cfg.PassThreshold,
					Passed:        true,
					LowConfidence: true,
				}
			}
		}()

		v.checkWorldRules(in, result)
		v.checkContradictions(in, result)
		v.checkTone(in, result)

		if result.Score < 0 {
			result.Score = 0
		}
		// A critical violation blocks regardless of the arithmetic.
		if result.HasCritical() && result.Score >= v.cfg.PassThreshold {
			result.Score = v.cfg.PassThreshold - 1
		}
		result.Passed = result.Score >= v.cfg.PassThreshold && !result.HasCritical()
	}()

	return result
}

func (v *Validator) checkWorldRules(in Input, result *types.ValidationResult) {
	lower := strings.ToLower(in.Content)
	for _, outcome := range forbiddenOutcomes {
		if strings.Contains(lower, outcome) {
			result.Violations = append(result.Violations, types.Violation{
				Severity: types.SeverityCritical,
				Rule:     "forbidden_outcome",
				Detail:   "content contains forbidden outcome: " + outcome,
			})
		}
	}
}

func (v *Validator) checkContradictions(in Input, result *types.ValidationResult) {
	for _, violation := range v.contradiction(in.Content, in.History) {
		violation.Severity = types.SeverityMajor
		result.Violations = append(result.Violations, violation)
		result.Score -= v.cfg.ContradictionPenalty
	}
}

// checkTone flags voice deviations: the narrator speaks to the hero in
// second person, so sustained first-person narration is off-voice.
func (v *Validator) checkTone(in Input, result *types.ValidationResult) {
	firstPerson := 0
	for _, word := range strings.Fields(strings.ToLower(in.Content)) {
		switch strings.Trim(word, ".,!?;:\"'") {
		case "i", "i'm", "i've", "i'll", "my", "mine":
			firstPerson++
		}
	}
	if firstPerson >= 3 {
		result.Violations = append(result.Violations, types.Violation{
			Severity: types.SeverityMinor,
			Rule:     "voice_deviation",
			Detail:   "narration drifts into first person",
		})
		result.Score -= v.cfg.TonePenalty
	}

	if in.Subject != nil && in.Subject.Name != "" {
		// The hero acts in second person; content renaming them to
		// someone else is a voice slip.
		lower := strings.ToLower(in.Content)
		if strings.Contains(lower, "the hero named") && !strings.Contains(lower, strings.ToLower(in.Subject.Name)) {
			result.Violations = append(result.Violations, types.Violation{
				Severity: types.SeverityMinor,
				Rule:     "voice_deviation",
				Detail:   "content misnames the hero",
			})
			result.Score -= v.cfg.TonePenalty
		}
	}
}

// DefaultContradictionFn is the stock keyword heuristic: content that
// negates a retrieved fact's key phrase is flagged. It looks for a
// history line's distinctive words appearing near a negation in the
// content.
func DefaultContradictionFn(content string, history []string) []types.Violation {
	lower := strings.ToLower(content)
	var violations []types.Violation
	for _, fact := range history {
		keyword := distinctiveWord(fact)
		if keyword == "" || !strings.Contains(lower, keyword) {
			continue
		}
		if negatedNear(lower, keyword) {
			violations = append(violations, types.Violation{
				Rule:   "contradiction",
				Detail: "content appears to negate established fact: " + fact,
			})
		}
	}
	return violations
}

// distinctiveWord picks the longest word of a fact as its anchor.
func distinctiveWord(fact string) string {
	best := ""
	for _, w := range strings.Fields(strings.ToLower(fact)) {
		w = strings.Trim(w, ".,!?;:\"'()[]")
		if len(w) > len(best) {
			best = w
		}
	}
	if len(best) <= 3 {
		return ""
	}
	return best
}

var negations = []string{"never", "not", "no longer", "wasn't", "isn't", "didn't", "hasn't"}

// negatedNear reports whether a negation appears in the same sentence as
// the keyword.
func negatedNear(content, keyword string) bool {
	for _, sentence := range strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		if !strings.Contains(sentence, keyword) {
			continue
		}
		for _, neg := range negations {
			if strings.Contains(sentence, " "+neg+" ") || strings.HasPrefix(strings.TrimSpace(sentence), neg+" ") {
				return true
			}
		}
	}
	return false
}
