package execution

import (
	"context"
	"errors"
	"time"
)

// ErrBudgetExhausted is returned by Poll when the wall-clock budget ran out
// before the predicate reported done. Callers map it to the appropriate
// typed timeout error for their phase.
var ErrBudgetExhausted = errors.New("poll budget exhausted")

// Policy is a bounded fixed-interval retry policy. Fixed-interval (no
// exponential backoff) is acceptable here only because every budget in this
// package is short.
type Policy struct {
	Interval   time.Duration
	MaxElapsed time.Duration
}

func (p Policy) normalized() Policy {
	if p.Interval <= 0 {
		p.Interval = time.Second
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = 30 * time.Second
	}
	return p
}

// Poll invokes fn immediately and then at fixed intervals until fn reports
// done, fn returns an error, the context is cancelled, or the wall-clock
// budget is exhausted.
func Poll(ctx context.Context, p Policy, fn func(context.Context) (bool, error)) error {
	p = p.normalized()
	deadline := time.Now().Add(p.MaxElapsed)
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().Add(p.Interval).After(deadline) {
			return ErrBudgetExhausted
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
