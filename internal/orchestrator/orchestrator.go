// Package orchestrator sequences the narrative turn pipeline: retrieval,
// skill checks, combat, the cached model call, the consistency gate, and
// the final memory write-back. The contract is that ProcessTurn always
// produces a result; only a store failure or a combat invariant
// violation may abort a turn outright.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/fernwright/questweaver/internal/cache"
	"github.com/fernwright/questweaver/internal/combat"
	"github.com/fernwright/questweaver/internal/config"
	"github.com/fernwright/questweaver/internal/llm"
	"github.com/fernwright/questweaver/internal/memory"
	"github.com/fernwright/questweaver/internal/retrieval"
	"github.com/fernwright/questweaver/internal/skillcheck"
	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/internal/validator"
	"github.com/fernwright/questweaver/pkg/types"
)

// defaultCheckDC is the difficulty used when the action implies a check
// but nothing sets an explicit DC.
const defaultCheckDC = 12

// Deps are the pipeline components the orchestrator sequences.
type Deps struct {
	Memory    *memory.Service
	Retrieval *retrieval.Engine
	Skills    *skillcheck.Resolver
	Combat    *combat.Machine
	Detector  combat.Detector
	Validator *validator.Validator
	Cache     *cache.Cache
	Narrator  llm.Narrator
	Subjects  storage.SubjectStore
}

// Orchestrator processes player turns. Turns for the same subject run
// strictly sequentially; turns for different subjects run concurrently.
type Orchestrator struct {
	deps     Deps
	cfg      *config.Config
	sessions *SessionRegistry
	retry    RetryPolicy

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the orchestrator.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	if deps.Detector == nil {
		deps.Detector = combat.NewKeywordDetector()
	}
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		sessions: NewSessionRegistry(0),
		retry: RetryPolicy{
			MaxRetries:  cfg.Narrator.MaxRetries,
			BackoffBase: cfg.Narrator.BackoffBase,
		},
		locks: make(map[string]*sync.Mutex),
	}
}

// Sessions exposes the session registry for diagnostics.
func (o *Orchestrator) Sessions() *SessionRegistry {
	return o.sessions
}

// ProcessTurn runs one player action through the full pipeline. Input
// validation failures and store failures return errors; every other
// failure degrades into a usable result.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req *types.TurnRequest) (*types.TurnResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	unlock := o.lockSubject(req.SubjectID)
	defer unlock()

	o.sessions.Touch(req.SubjectID, req.SessionID)
	trace := newTracer()
	result := &types.TurnResult{CacheTier: types.CacheTierMiss}

	// Combat invariant check comes first: a corrupted combat state must
	// not drive this turn's narration.
	if err := o.deps.Combat.EnsureInvariant(ctx, req.SubjectID); err != nil {
		if errors.Is(err, combat.ErrEncounterInvariant) {
			trace.record("combat_invariant", outcomeFailed, err.Error())
			return nil, err
		}
		trace.record("combat_invariant", outcomeDegraded, err.Error())
	}

	items := o.retrieveContext(ctx, req, trace)
	sheet := o.loadSheet(ctx, req.SubjectID, trace)
	checkResult := o.maybeSkillCheck(ctx, req, sheet, trace)
	result.SkillCheck = checkResult

	encounter := o.stepCombat(ctx, req, sheet, trace)
	result.Combat = encounter

	narrative, tier, degraded := o.narrate(ctx, req, sheet, items, checkResult, encounter, trace, result)
	result.NarrativeText = narrative
	result.CacheTier = tier
	result.Degraded = result.Degraded || degraded

	if err := o.persistTurn(ctx, req, narrative, checkResult, encounter, trace); err != nil {
		// Memory consistency is load-bearing for future turns; a failed
		// write aborts the turn as retryable.
		return nil, err
	}

	// Persisting changed subject state, so entries that served this turn
	// are now stale. The miss path already invalidated before storing
	// its fresh response; only a cache hit leaves old entries behind.
	if result.CacheTier != types.CacheTierMiss {
		o.deps.Cache.InvalidateSubject(req.SubjectID)
	}

	o.compressMemory(ctx, req.SubjectID, trace)
	result.Trace = trace.steps
	return result, nil
}

// retrieveContext runs hybrid retrieval. Failure degrades to an empty
// context rather than failing the turn.
func (o *Orchestrator) retrieveContext(ctx context.Context, req *types.TurnRequest, trace *tracer) []retrieval.ContextItem {
	items, err := o.deps.Retrieval.Retrieve(ctx, req.SubjectID, req.ActionText, 0)
	if err != nil {
		log.Printf("orchestrator: retrieval degraded for %s: %v", req.SubjectID, err)
		trace.record("retrieve", outcomeDegraded, err.Error())
		return nil
	}
	trace.record("retrieve", outcomeSuccess, fmt.Sprintf("%d items", len(items)))
	return items
}

func (o *Orchestrator) loadSheet(ctx context.Context, subjectID string, trace *tracer) *types.SubjectSheet {
	sheet, err := o.deps.Subjects.GetSubject(ctx, subjectID)
	if err != nil {
		trace.record("load_sheet", outcomeDegraded, err.Error())
		return &types.SubjectSheet{ID: subjectID, Level: 1, HP: 10, MaxHP: 10}
	}
	trace.record("load_sheet", outcomeSuccess, "")
	return sheet
}

// maybeSkillCheck resolves a check when the action warrants one. A
// player-supplied roll is used as-is; resolution failure skips the check
// rather than failing the turn.
func (o *Orchestrator) maybeSkillCheck(ctx context.Context, req *types.TurnRequest, sheet *types.SubjectSheet, trace *tracer) *types.SkillCheckResult {
	skill, ok := detectSkill(req.ActionText)
	if !ok {
		trace.record("skill_check", outcomeSkipped, "action needs no check")
		return nil
	}

	result, err := o.deps.Skills.Resolve(ctx, req.SubjectID, skill, defaultCheckDC, skillcheck.Options{
		ExplicitRoll: req.ExplicitRoll,
	})
	if err != nil {
		log.Printf("orchestrator: skill check degraded for %s: %v", req.SubjectID, err)
		trace.record("skill_check", outcomeDegraded, err.Error())
		return nil
	}
	trace.record("skill_check", outcomeSuccess, fmt.Sprintf("%s dc %d total %d", skill, result.DC, result.Total))
	return result
}

// stepCombat advances the subject's combat state for this action: supply
// the player's initiative when one is awaited, detect and initialize new
// combat, or advance the turn order in an active fight. Initialization
// failure falls back to no encounter.
func (o *Orchestrator) stepCombat(ctx context.Context, req *types.TurnRequest, sheet *types.SubjectSheet, trace *tracer) *types.CombatEncounter {
	encounter, err := o.deps.Combat.Open(ctx, req.SubjectID)
	if err != nil {
		trace.record("combat", outcomeDegraded, err.Error())
		return nil
	}

	switch {
	case encounter == nil:
		detection, triggered := o.deps.Detector.Detect(req.ActionText)
		if !triggered {
			trace.record("combat", outcomeSkipped, "no combat detected")
			return nil
		}
		player := types.Combatant{
			ID:          sheet.ID,
			Name:        sheet.Name,
			IsPlayer:    true,
			DexModifier: sheet.Modifier(types.StatDexterity),
			HP:          sheet.HP,
			MaxHP:       sheet.MaxHP,
		}
		encounter, err = o.deps.Combat.Initialize(ctx, req.SubjectID, player, detection)
		if err != nil {
			log.Printf("orchestrator: combat init failed for %s, no encounter: %v", req.SubjectID, err)
			trace.record("combat", outcomeDegraded, "initialization failed: "+err.Error())
			return nil
		}
		trace.record("combat", outcomeSuccess, "encounter initialized, awaiting initiative")
		return encounter

	case encounter.Status == types.EncounterAwaitingInitiative:
		if req.ExplicitRoll == nil {
			trace.record("combat", outcomeSkipped, "awaiting player initiative")
			return encounter
		}
		updated, err := o.deps.Combat.SetPlayerInitiative(ctx, encounter.ID, *req.ExplicitRoll)
		if err != nil {
			trace.record("combat", outcomeDegraded, err.Error())
			return encounter
		}
		trace.record("combat", outcomeSuccess, "turn order locked")
		return updated

	case encounter.Status == types.EncounterActive:
		updated, err := o.deps.Combat.AdvanceTurn(ctx, encounter.ID)
		if err != nil {
			trace.record("combat", outcomeDegraded, err.Error())
			return encounter
		}
		trace.record("combat", outcomeSuccess, fmt.Sprintf("round %d turn %d", updated.Round, updated.TurnIndex))
		return updated
	}

	trace.record("combat", outcomeSkipped, string(encounter.Status))
	return encounter
}

// narrate assembles the model request, consults the cache, calls the
// model on a miss, and runs the consistency gate with bounded revision.
// All failures collapse into the deterministic fallback narrative.
func (o *Orchestrator) narrate(ctx context.Context, req *types.TurnRequest, sheet *types.SubjectSheet, items []retrieval.ContextItem, check *types.SkillCheckResult, encounter *types.CombatEncounter, trace *tracer, result *types.TurnResult) (string, types.CacheTier, bool) {
	summary, err := o.deps.Memory.Summary(ctx, req.SubjectID)
	if err != nil {
		log.Printf("orchestrator: summary read degraded for %s: %v", req.SubjectID, err)
	}

	history := make([]string, len(items))
	for i, item := range items {
		history[i] = item.Record.Text
	}

	promptInput := llm.TurnPromptInput{
		ActionText:   req.ActionText,
		Summary:      summary,
		Memories:     history,
		SkillOutcome: renderSkillCheck(check),
		CombatState:  renderCombat(encounter),
	}
	modelReq := llm.BuildTurnPrompt(promptInput)
	modelReq.MaxTokens = o.cfg.Narrator.MaxTokens
	modelReq.Temperature = o.cfg.Narrator.Temperature

	if cached, tier := o.deps.Cache.Lookup(ctx, req.SubjectID, modelReq); cached != nil {
		if reply, perr := llm.ParseNarrativeReply(cached.Text); perr == nil {
			trace.record("cache", outcomeSuccess, string(tier)+" hit")
			result.Validation = types.ValidationSnapshot{Score: 100, Passed: true}
			return reply.Narrative, tier, false
		}
	}
	trace.record("cache", outcomeSuccess, "miss")

	reply, resp, err := o.completeTurn(ctx, modelReq)
	if err != nil {
		trace.record("model", outcomeFailed, err.Error())
		result.Validation = types.ValidationSnapshot{Score: 0, Passed: false}
		return fallbackNarrative(req, check, encounter), types.CacheTierMiss, true
	}
	trace.record("model", outcomeSuccess, "")

	narrative, snapshot, degraded := o.validateAndRevise(ctx, promptInput, reply, sheet, history, trace)
	result.Validation = snapshot
	if narrative == "" {
		// Revisions exhausted on a critical violation: the player still
		// gets a turn, just the deterministic one.
		narrative = fallbackNarrative(req, check, encounter)
	}

	// The turn mutates world state, so earlier entries for this subject
	// are stale; invalidate before caching the fresh response.
	o.deps.Cache.InvalidateSubject(req.SubjectID)
	if !degraded {
		o.deps.Cache.Store(ctx, req.SubjectID, modelReq, resp)
		o.storeFragments(reply)
	}
	return narrative, types.CacheTierMiss, degraded
}

// completeTurn calls the model under the shared retry policy and parses
// the reply, failing closed on malformed output.
func (o *Orchestrator) completeTurn(ctx context.Context, modelReq llm.CompletionRequest) (*llm.NarrativeReply, *llm.CompletionResponse, error) {
	var (
		reply *llm.NarrativeReply
		resp  *llm.CompletionResponse
	)
	err := o.retry.Do(ctx, func() error {
		r, err := o.deps.Narrator.Complete(ctx, modelReq)
		if err != nil {
			return err
		}
		parsed, err := llm.ParseNarrativeReply(r.Text)
		if err != nil {
			return err
		}
		reply, resp = parsed, r
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return reply, resp, nil
}

// validateAndRevise runs the consistency gate, revising with feedback up
// to the configured bound, then accepts the best-scoring attempt flagged
// low-confidence if none passed.
func (o *Orchestrator) validateAndRevise(ctx context.Context, promptInput llm.TurnPromptInput, reply *llm.NarrativeReply, sheet *types.SubjectSheet, history []string, trace *tracer) (string, types.ValidationSnapshot, bool) {
	best := reply.Narrative
	bestResult := o.deps.Validator.Validate(validator.Input{
		Content: reply.Narrative,
		Subject: sheet,
		History: history,
	})
	if bestResult.Passed {
		trace.record("validate", outcomeSuccess, fmt.Sprintf("score %d", bestResult.Score))
		return best, types.ValidationSnapshot{Score: bestResult.Score, Passed: true}, false
	}

	for attempt := 0; attempt < o.cfg.Validator.MaxRevisions; attempt++ {
		feedback := make([]string, len(bestResult.Violations))
		for i, v := range bestResult.Violations {
			feedback[i] = v.Detail
		}

		revised, _, err := o.completeTurn(ctx, llm.BuildRevisionPrompt(promptInput, best, feedback))
		if err != nil {
			break
		}
		candidate := o.deps.Validator.Validate(validator.Input{
			Content: revised.Narrative,
			Subject: sheet,
			History: history,
		})
		if candidate.Score > bestResult.Score {
			best, bestResult = revised.Narrative, candidate
		}
		if bestResult.Passed {
			trace.record("validate", outcomeSuccess, fmt.Sprintf("passed on revision %d, score %d", attempt+1, bestResult.Score))
			return best, types.ValidationSnapshot{Score: bestResult.Score, Passed: true}, false
		}
	}

	// Revisions exhausted: a critical violation falls back entirely,
	// anything else ships the best attempt flagged low-confidence.
	if bestResult.HasCritical() {
		trace.record("validate", outcomeFailed, "critical violation, falling back")
		return "", types.ValidationSnapshot{Score: bestResult.Score, Passed: false}, true
	}
	trace.record("validate", outcomeDegraded, fmt.Sprintf("accepted low-confidence score %d", bestResult.Score))
	return best, types.ValidationSnapshot{Score: bestResult.Score, Passed: false}, true
}

// persistTurn writes the turn's event and working memory atomically.
func (o *Orchestrator) persistTurn(ctx context.Context, req *types.TurnRequest, narrative string, check *types.SkillCheckResult, encounter *types.CombatEncounter, trace *tracer) error {
	event := &types.Event{
		SubjectID:   req.SubjectID,
		Type:        types.EventDMInteraction,
		Description: req.ActionText,
		Context:     map[string]string{"session_id": req.SessionID},
	}
	if narrative != "" {
		event.Context["narrative"] = firstSentence(narrative)
	}
	if check != nil {
		event.Context["skill_check"] = fmt.Sprintf("%s:%t", check.Skill, check.Success)
	}
	if encounter != nil && encounter.Status.Terminal() {
		event.Type = types.EventCombatEnd
	}

	if _, err := o.deps.Memory.RecordEvent(ctx, event); err != nil {
		trace.record("persist", outcomeFailed, err.Error())
		return fmt.Errorf("turn persistence failed: %w", err)
	}
	trace.record("persist", outcomeSuccess, "")
	return nil
}

// compressMemory folds aged working memory into an episode. Below the
// batch minimum this is a no-op.
func (o *Orchestrator) compressMemory(ctx context.Context, subjectID string, trace *tracer) {
	episode, err := o.deps.Memory.CompressToEpisode(ctx, subjectID)
	switch {
	case err != nil:
		log.Printf("orchestrator: compression degraded for %s: %v", subjectID, err)
		trace.record("compress", outcomeDegraded, err.Error())
	case episode == nil:
		trace.record("compress", outcomeSkipped, "batch below minimum")
	default:
		trace.record("compress", outcomeSuccess, "episode "+episode.ID)
	}
}

// storeFragments caches reusable scene fragments from the reply.
func (o *Orchestrator) storeFragments(reply *llm.NarrativeReply) {
	for _, fragment := range reply.Fragments {
		if fragment.Key != "" && fragment.Text != "" {
			o.deps.Cache.PutStatic(fragment.Key, fragment.Text)
		}
	}
}

// lockSubject acquires the subject's turn mutex.
func (o *Orchestrator) lockSubject(subjectID string) func() {
	o.mu.Lock()
	lock, ok := o.locks[subjectID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[subjectID] = lock
	}
	o.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// skillVerbs maps action phrasing to the skill it implies.
var skillVerbs = map[string]types.SkillType{
	"climb":      types.SkillAthletics,
	"lift":       types.SkillAthletics,
	"swim":       types.SkillAthletics,
	"leap":       types.SkillAcrobatics,
	"tumble":     types.SkillAcrobatics,
	"balance":    types.SkillAcrobatics,
	"sneak":      types.SkillStealth,
	"hide":       types.SkillStealth,
	"listen":     types.SkillPerception,
	"spot":       types.SkillPerception,
	"search":     types.SkillInvestigation,
	"examine":    types.SkillInvestigation,
	"track":      types.SkillSurvival,
	"forage":     types.SkillSurvival,
	"persuade":   types.SkillPersuasion,
	"convince":   types.SkillPersuasion,
	"intimidate": types.SkillIntimidation,
	"threaten":   types.SkillIntimidation,
	"deceive":    types.SkillDeception,
	"bluff":      types.SkillDeception,
	"perform":    types.SkillPerformance,
	"recall":     types.SkillArcana,
	"sense":      types.SkillInsight,
}

// skillVerbOrder fixes the match order so an action containing several
// verbs always resolves to the same skill.
var skillVerbOrder = func() []string {
	verbs := make([]string, 0, len(skillVerbs))
	for verb := range skillVerbs {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)
	return verbs
}()

// detectSkill decides whether the action warrants a check and which
// skill governs it.
func detectSkill(actionText string) (types.SkillType, bool) {
	lower := strings.ToLower(actionText)
	for _, verb := range skillVerbOrder {
		if strings.Contains(lower, verb) {
			return skillVerbs[verb], true
		}
	}
	return "", false
}

// renderSkillCheck formats a check result for the prompt.
func renderSkillCheck(check *types.SkillCheckResult) string {
	if check == nil {
		return ""
	}
	outcome := "failure"
	if check.Success {
		outcome = "success"
	}
	return fmt.Sprintf("%s check, DC %d: rolled %d, total %d, %s", check.Skill, check.DC, check.Roll, check.Total, outcome)
}

// renderCombat formats encounter state for the prompt.
func renderCombat(encounter *types.CombatEncounter) string {
	if encounter == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Status %s, round %d.", encounter.Status, encounter.Round)
	for _, c := range encounter.InitiativeOrder {
		fmt.Fprintf(&b, " %s: %d/%d HP at %s.", c.Name, c.HP, c.MaxHP, encounter.Zones[c.ID])
	}
	return b.String()
}

// fallbackNarrative is the deterministic last-resort response when the
// model path is exhausted. Always succeeds; never references state it
// cannot verify.
func fallbackNarrative(req *types.TurnRequest, check *types.SkillCheckResult, encounter *types.CombatEncounter) string {
	var b strings.Builder
	b.WriteString("You press on. ")
	if check != nil {
		if check.Success {
			b.WriteString("Your attempt succeeds, and the way forward opens. ")
		} else {
			b.WriteString("Your attempt falls short, but the tale is far from over. ")
		}
	}
	if encounter != nil && encounter.Status == types.EncounterActive {
		b.WriteString("The clash continues around you. ")
	}
	b.WriteString("The world holds its breath, waiting for your next move.")
	return b.String()
}

// firstSentence trims a narrative to its opening sentence for event
// context.
func firstSentence(text string) string {
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return text[:i+1]
		}
	}
	if len(text) > 200 {
		return text[:200]
	}
	return text
}
