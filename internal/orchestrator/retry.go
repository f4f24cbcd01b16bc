package orchestrator

import (
	"context"
	"time"
)

// RetryPolicy is the single bounded-backoff policy applied at the
// orchestrator boundary around any step that calls the model or another
// external service. Steps never carry their own retry loops.
type RetryPolicy struct {
	MaxRetries  int
	BackoffBase time.Duration
}

// Do runs fn up to MaxRetries+1 times with exponential backoff between
// attempts. The last error is returned when every attempt fails.
// Cancellation is honored between attempts.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	backoff := p.BackoffBase
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
