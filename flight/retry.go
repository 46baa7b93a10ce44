package flight

import (
	"context"
	"math/rand"
	"time"
)

// RetryRule decides whether a step attempt that returned FAILURE_RETRY gets
// another try. Initialize resets per-attempt state when the runner enters a
// step; SleepAndDecide optionally blocks, then reports whether to retry.
// Rules are used serially per step and must not keep global state.
type RetryRule interface {
	Initialize()
	SleepAndDecide(ctx context.Context) (bool, error)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryRuleNone never retries.
type RetryRuleNone struct{}

func (RetryRuleNone) Initialize() {}

func (RetryRuleNone) SleepAndDecide(context.Context) (bool, error) { return false, nil }

// RetryRuleFixedInterval sleeps Interval then retries, up to MaxCount times.
type RetryRuleFixedInterval struct {
	Interval time.Duration
	MaxCount int

	count int
}

func (r *RetryRuleFixedInterval) Initialize() { r.count = 0 }

func (r *RetryRuleFixedInterval) SleepAndDecide(ctx context.Context) (bool, error) {
	if r.count >= r.MaxCount {
		return false, nil
	}
	r.count++
	if err := sleepCtx(ctx, r.Interval); err != nil {
		return false, err
	}
	return true, nil
}

// RetryRuleExponentialBackoff doubles the interval after each attempt up to
// MaxInterval, and stops once wall-clock time since Initialize exceeds
// TotalBudget.
type RetryRuleExponentialBackoff struct {
	Initial     time.Duration
	MaxInterval time.Duration
	TotalBudget time.Duration

	interval time.Duration
	start    time.Time
}

func (r *RetryRuleExponentialBackoff) Initialize() {
	r.interval = r.Initial
	r.start = time.Now()
}

func (r *RetryRuleExponentialBackoff) SleepAndDecide(ctx context.Context) (bool, error) {
	if time.Since(r.start)+r.interval > r.TotalBudget {
		return false, nil
	}
	if err := sleepCtx(ctx, r.interval); err != nil {
		return false, err
	}
	r.interval *= 2
	if r.interval > r.MaxInterval {
		r.interval = r.MaxInterval
	}
	return true, nil
}

// RetryRuleRandomBackoff sleeps Unit multiplied by a random factor in
// [0, Spread), up to MaxCount times. Jitter spreads concurrent retries so
// they do not synchronize against the same contended resource.
type RetryRuleRandomBackoff struct {
	Unit     time.Duration
	Spread   int
	MaxCount int

	count int
}

func (r *RetryRuleRandomBackoff) Initialize() { r.count = 0 }

func (r *RetryRuleRandomBackoff) SleepAndDecide(ctx context.Context) (bool, error) {
	if r.count >= r.MaxCount {
		return false, nil
	}
	r.count++
	spread := r.Spread
	if spread < 1 {
		spread = 1
	}
	if err := sleepCtx(ctx, r.Unit*time.Duration(rand.Intn(spread))); err != nil {
		return false, err
	}
	return true, nil
}
