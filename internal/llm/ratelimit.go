package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedNarrator wraps a Narrator with a token-bucket rate limiter so
// bursts of turns cannot flood the external model.
type RateLimitedNarrator struct {
	inner   Narrator
	limiter *rate.Limiter
}

// NewRateLimitedNarrator wraps narrator with a limit of perMinute calls
// per minute and a burst of one tenth of that (minimum 1).
func NewRateLimitedNarrator(narrator Narrator, perMinute int) *RateLimitedNarrator {
	if perMinute <= 0 {
		perMinute = 30
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedNarrator{
		inner:   narrator,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
	}
}

// Complete waits for a rate-limiter token then delegates. A context that
// expires while waiting surfaces as ErrModelUnavailable so the caller
// takes its fallback path instead of hanging.
func (r *RateLimitedNarrator) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", ErrModelUnavailable, err)
	}
	return r.inner.Complete(ctx, req)
}

// Model returns the wrapped narrator's model name.
func (r *RateLimitedNarrator) Model() string {
	return r.inner.Model()
}

// Compile-time assertion.
var _ Narrator = (*RateLimitedNarrator)(nil)
