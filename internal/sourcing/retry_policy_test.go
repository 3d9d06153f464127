package sourcing

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicy_Backoff(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond})
	p.Jitter = func(limit time.Duration) time.Duration { return limit }

	require.Equal(t, 100*time.Millisecond, p.Backoff(1))
	require.Equal(t, 200*time.Millisecond, p.Backoff(2))
	require.Equal(t, 300*time.Millisecond, p.Backoff(3))
	require.Equal(t, 300*time.Millisecond, p.Backoff(9))

	p.Jitter = func(time.Duration) time.Duration { return 0 }
	require.Equal(t, 50*time.Millisecond, p.Backoff(1))
}

func TestExponentialRetryPolicy_Defaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{})
	require.Equal(t, 2, p.MaxAttempts)
	transient := ConnectorErrorFromStatus(SourceDIBBS, http.StatusBadGateway)
	require.True(t, p.ShouldRetry(transient, 1))
	require.False(t, p.ShouldRetry(transient, 2))
	require.False(t, p.ShouldRetry(errors.New("boom"), 1))

	d := p.Backoff(1)
	require.GreaterOrEqual(t, d, 250*time.Millisecond)
	require.Less(t, d, 500*time.Millisecond)
}

func TestRetry(t *testing.T) {
	t.Parallel()

	var slept []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	policy := NewExponentialRetryPolicy(RetryConfig{MaxAttempts: 3, BaseDelay: time.Second})
	policy.Jitter = func(time.Duration) time.Duration { return 0 }

	calls := 0
	got, attempts, err := Retry(context.Background(), policy, sleep, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.Mark(errors.New("flaky"), ErrTransient)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 3, attempts)
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, slept)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	_, attempts, err := Retry(context.Background(), NoDelayRetryPolicy(5), nil, func(context.Context) (int, error) {
		calls++
		return 0, ConnectorErrorFromStatus(SourceDIBBS, http.StatusNotFound)
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
}

func TestRetry_StopsWhenSleepCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, attempts, err := Retry(ctx, NewExponentialRetryPolicy(RetryConfig{MaxAttempts: 5}), SleepContext, func(context.Context) (int, error) {
		calls++
		return 0, errors.Mark(errors.New("flaky"), ErrTransient)
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
}

func TestNormalizeDate(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"2024-03-05":           "2024-03-05",
		"03/05/2024":           "2024-03-05",
		"3/5/2024":             "2024-03-05",
		"03-05-2024":           "2024-03-05",
		"2024/03/05":           "2024-03-05",
		"2024-03-05T10:00:00Z": "2024-03-05",
		"2024-03-05 10:00:00":  "2024-03-05",
		"Mar 5, 2024":          "2024-03-05",
		" soon ":               "soon",
		"":                     "",
	}
	for in, want := range tests {
		require.Equal(t, want, NormalizeDate(in), in)
	}
}
