package orchestrator

import (
	"time"

	"github.com/fernwright/questweaver/pkg/types"
)

// Step outcomes. Every fallible pipeline stage reports one of these so
// the orchestrator can uniformly decide to continue, degrade, or abort.
const (
	outcomeSuccess  = "success"
	outcomeDegraded = "degraded"
	outcomeSkipped  = "skipped"
	outcomeFailed   = "failed"
)

// tracer accumulates the per-step diagnostic record for one turn.
type tracer struct {
	steps []types.TraceStep
	start time.Time
}

func newTracer() *tracer {
	return &tracer{start: time.Now()}
}

// record appends one step outcome and restarts the stage clock.
func (t *tracer) record(step, outcome, detail string) {
	now := time.Now()
	t.steps = append(t.steps, types.TraceStep{
		Step:    step,
		Outcome: outcome,
		Detail:  detail,
		Elapsed: now.Sub(t.start),
	})
	t.start = now
}
