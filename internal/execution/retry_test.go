package execution

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollStopsOnDone(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), Policy{Interval: time.Millisecond, MaxElapsed: time.Second}, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestPollPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := Poll(context.Background(), Policy{Interval: time.Millisecond, MaxElapsed: time.Second}, func(context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestPollBudgetExhausted(t *testing.T) {
	start := time.Now()
	err := Poll(context.Background(), Policy{Interval: 5 * time.Millisecond, MaxElapsed: 40 * time.Millisecond}, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected budget exhaustion, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("poll overran its budget: %v", elapsed)
	}
}

func TestPollHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Poll(ctx, Policy{Interval: 5 * time.Millisecond, MaxElapsed: 10 * time.Second}, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
