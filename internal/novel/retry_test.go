package novel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestRetryLinearScheduleUntilSuccess(t *testing.T) {
	t.Parallel()

	rec := &recordedSleeps{}
	policy := RetryPolicy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(time.Second),
		Sleep:       rec.sleep,
	}

	calls := 0
	out, attempts, err := Retry(context.Background(), policy, func(context.Context, int) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("boom")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 3, attempts)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestRetryStopsOnTerminal(t *testing.T) {
	t.Parallel()

	rec := &recordedSleeps{}
	policy := RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(time.Second), Sleep: rec.sleep}

	calls := 0
	_, attempts, err := Retry(context.Background(), policy, func(context.Context, int) (int, error) {
		calls++
		return 0, fmt.Errorf("detail page: %w", ErrLoginRequired)
	})

	require.ErrorIs(t, err, ErrLoginRequired)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, attempts)
	require.Empty(t, rec.delays)
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	t.Parallel()

	rec := &recordedSleeps{}
	var retried []int
	policy := RetryPolicy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(10 * time.Millisecond),
		Sleep:       rec.sleep,
		OnRetry: func(attempt int, _ error, _ time.Duration) {
			retried = append(retried, attempt)
		},
	}

	_, attempts, err := Retry(context.Background(), policy, func(_ context.Context, attempt int) (int, error) {
		return 0, fmt.Errorf("attempt %d", attempt)
	})

	require.EqualError(t, err, "attempt 3")
	require.Equal(t, 3, attempts)
	require.Equal(t, []int{1, 2}, retried)
	require.Len(t, rec.delays, 2)
}

func TestRetryHonoursContextDuringWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(time.Hour)}
	_, attempts, err := Retry(ctx, policy, func(context.Context, int) (int, error) {
		return 0, errors.New("transient")
	})

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestTimeoutAwareBackoff(t *testing.T) {
	t.Parallel()

	backoff := TimeoutAwareBackoff(time.Second, 200*time.Millisecond)
	require.Equal(t, 200*time.Millisecond, backoff(2, timeoutErr{}))
	require.Equal(t, 200*time.Millisecond, backoff(1, context.DeadlineExceeded))
	require.Equal(t, 2*time.Second, backoff(2, errors.New("502")))
}
