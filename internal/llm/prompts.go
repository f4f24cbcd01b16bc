package llm

import (
	"fmt"
	"strings"
)

// turnSystemPrompt frames the model as the campaign narrator. The JSON
// contract here must stay in sync with NarrativeReply.
const turnSystemPrompt = `You are the narrator of an ongoing fantasy adventure. The player's real-world accomplishments drive their hero's story. Narrate in second person, present tense, with a warm heroic tone. Never kill, maim, or permanently harm the hero. Never contradict the established facts you are given.

Respond with a single JSON object:
{"narrative": "...", "tone": "...", "tags": ["..."], "fragments": [{"key": "...", "text": "..."}]}

Only "narrative" is required. Use "fragments" for reusable scene descriptions keyed by location or NPC name.`

// episodeSystemPrompt frames episode compression.
const episodeSystemPrompt = `You condense adventure logs. Given a batch of events, write one cohesive episode summary in past tense that preserves named characters, quest outcomes, and stat changes. Respond with a single JSON object: {"narrative": "..."}.`

// summarySystemPrompt frames rolling-summary recompression.
const summarySystemPrompt = `You maintain the hero's story-so-far. Merge the existing summary with the new episodes into one summary of at most %d words. Keep named characters, open quests, and lasting consequences. Respond with a single JSON object: {"narrative": "..."}.`

// TurnPromptInput carries everything the turn narration prompt needs,
// already rendered to plain text by the caller.
type TurnPromptInput struct {
	ActionText   string
	Summary      string   // rolling story-so-far, may be empty
	Memories     []string // retrieved memory texts, most relevant first
	SkillOutcome string   // rendered skill-check result, may be empty
	CombatState  string   // rendered encounter state, may be empty
}

// BuildTurnPrompt assembles the narration request for one turn.
func BuildTurnPrompt(in TurnPromptInput) CompletionRequest {
	var b strings.Builder

	if in.Summary != "" {
		b.WriteString("STORY SO FAR:\n")
		b.WriteString(in.Summary)
		b.WriteString("\n\n")
	}
	if len(in.Memories) > 0 {
		b.WriteString("ESTABLISHED FACTS:\n")
		for _, m := range in.Memories {
			b.WriteString("- ")
			b.WriteString(m)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if in.CombatState != "" {
		b.WriteString("COMBAT STATE:\n")
		b.WriteString(in.CombatState)
		b.WriteString("\n\n")
	}
	if in.SkillOutcome != "" {
		b.WriteString("CHECK RESULT:\n")
		b.WriteString(in.SkillOutcome)
		b.WriteString("\n\n")
	}
	b.WriteString("PLAYER ACTION:\n")
	b.WriteString(in.ActionText)
	b.WriteString("\n\nNarrate the outcome.")

	return CompletionRequest{
		SystemPrompt: turnSystemPrompt,
		UserPrompt:   b.String(),
		Cacheable:    true,
	}
}

// BuildRevisionPrompt asks the model to rewrite a narrative that failed
// the consistency gate, listing the specific violations to fix.
func BuildRevisionPrompt(in TurnPromptInput, rejected string, violations []string) CompletionRequest {
	base := BuildTurnPrompt(in)

	var b strings.Builder
	b.WriteString(base.UserPrompt)
	b.WriteString("\n\nYour previous narration was rejected:\n")
	b.WriteString(rejected)
	b.WriteString("\n\nProblems to fix:\n")
	for _, v := range violations {
		b.WriteString("- ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	b.WriteString("\nRewrite the narration fixing every problem. Keep everything that was not flagged.")

	base.UserPrompt = b.String()
	base.Cacheable = false
	return base
}

// BuildEpisodePrompt asks the model to compress a batch of event
// descriptions into one episode summary.
func BuildEpisodePrompt(eventTexts []string) CompletionRequest {
	var b strings.Builder
	b.WriteString("EVENTS:\n")
	for i, t := range eventTexts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}
	b.WriteString("\nWrite the episode summary.")

	return CompletionRequest{
		SystemPrompt: episodeSystemPrompt,
		UserPrompt:   b.String(),
		Temperature:  0.3,
	}
}

// BuildSummaryPrompt asks the model to fold new episodes into the
// rolling summary without exceeding wordBudget words.
func BuildSummaryPrompt(existing string, episodes []string, wordBudget int) CompletionRequest {
	var b strings.Builder
	if existing != "" {
		b.WriteString("CURRENT SUMMARY:\n")
		b.WriteString(existing)
		b.WriteString("\n\n")
	}
	b.WriteString("NEW EPISODES:\n")
	for _, e := range episodes {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	b.WriteString("\nWrite the merged summary.")

	return CompletionRequest{
		SystemPrompt: fmt.Sprintf(summarySystemPrompt, wordBudget),
		UserPrompt:   b.String(),
		Temperature:  0.3,
	}
}
