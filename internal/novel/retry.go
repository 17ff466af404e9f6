package novel

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bundles the retry knobs for one kind of call.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the delay after the given 1-based attempt failed with err.
	Backoff func(attempt int, err error) time.Duration
	// IsTerminal stops retrying immediately when it returns true. Nil means IsTerminal.
	IsTerminal func(err error) bool
	// Sleep waits between attempts. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is invoked before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// LinearBackoff waits attempt × base.
func LinearBackoff(base time.Duration) func(int, error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		return time.Duration(attempt) * base
	}
}

// TimeoutAwareBackoff retries timeouts after a fixed short delay and backs
// off linearly for everything else.
func TimeoutAwareBackoff(base, timeoutDelay time.Duration) func(int, error) time.Duration {
	linear := LinearBackoff(base)
	return func(attempt int, err error) time.Duration {
		if IsTimeout(err) {
			return timeoutDelay
		}
		return linear(attempt, err)
	}
}

// Retry runs fn until it succeeds, the policy gives up, or ctx ends. It
// returns the number of attempts made alongside the last result.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	terminal := p.IsTerminal
	if terminal == nil {
		terminal = IsTerminal
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := fn(ctx, attempt)
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err
		if terminal(err) || attempt == maxAttempts {
			return zero, attempt, err
		}
		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, attempt, fmt.Errorf("retry wait: %w", err)
		}
	}
	return zero, maxAttempts, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
