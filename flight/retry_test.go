package flight

import (
	"context"
	"testing"
	"time"
)

func TestRetryRuleNoneNeverRetries(t *testing.T) {
	var r RetryRuleNone
	r.Initialize()
	retry, err := r.SleepAndDecide(context.Background())
	if err != nil {
		t.Fatalf("SleepAndDecide: %v", err)
	}
	if retry {
		t.Fatalf("RetryRuleNone decided to retry")
	}
}

func TestRetryRuleFixedIntervalCountsAttempts(t *testing.T) {
	r := &RetryRuleFixedInterval{Interval: time.Millisecond, MaxCount: 2}
	r.Initialize()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		retry, err := r.SleepAndDecide(ctx)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if !retry {
			t.Fatalf("attempt %d: gave up early", i)
		}
	}
	retry, err := r.SleepAndDecide(ctx)
	if err != nil {
		t.Fatalf("exhausted attempt: %v", err)
	}
	if retry {
		t.Fatalf("retried past MaxCount")
	}

	// Initialize resets the budget.
	r.Initialize()
	if retry, _ := r.SleepAndDecide(ctx); !retry {
		t.Fatalf("no retry after re-Initialize")
	}
}

func TestRetryRuleFixedIntervalCancellation(t *testing.T) {
	r := &RetryRuleFixedInterval{Interval: time.Minute, MaxCount: 5}
	r.Initialize()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	retry, err := r.SleepAndDecide(ctx)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if retry {
		t.Fatalf("retry decided despite cancellation")
	}
}

func TestRetryRuleExponentialBackoffBudget(t *testing.T) {
	r := &RetryRuleExponentialBackoff{
		Initial:     time.Millisecond,
		MaxInterval: 4 * time.Millisecond,
		TotalBudget: 10 * time.Millisecond,
	}
	r.Initialize()
	ctx := context.Background()

	retries := 0
	for {
		retry, err := r.SleepAndDecide(ctx)
		if err != nil {
			t.Fatalf("SleepAndDecide: %v", err)
		}
		if !retry {
			break
		}
		retries++
		if retries > 100 {
			t.Fatalf("backoff never exhausted its budget")
		}
	}
	if retries == 0 {
		t.Fatalf("no retries granted within budget")
	}
}

func TestRetryRuleRandomBackoffCountsAttempts(t *testing.T) {
	r := &RetryRuleRandomBackoff{Unit: time.Microsecond, Spread: 3, MaxCount: 4}
	r.Initialize()
	ctx := context.Background()

	granted := 0
	for {
		retry, err := r.SleepAndDecide(ctx)
		if err != nil {
			t.Fatalf("SleepAndDecide: %v", err)
		}
		if !retry {
			break
		}
		granted++
	}
	if granted != 4 {
		t.Fatalf("granted %d retries, want 4", granted)
	}
}
