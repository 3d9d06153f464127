package sourcing

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryConfig tunes ExponentialRetryPolicy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// ExponentialRetryPolicy retries retryable errors with jittered exponential
// backoff. Attempts are 1-based: attempt 1 is the first call.
type ExponentialRetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter returns a random duration in [0, limit). Nil uses crypto/rand.
	Jitter func(limit time.Duration) time.Duration
	// Retryable classifies errors. Nil uses IsRetryable.
	Retryable func(error) bool
}

// NewExponentialRetryPolicy builds a policy, filling zero fields with defaults.
func NewExponentialRetryPolicy(cfg RetryConfig) *ExponentialRetryPolicy {
	p := &ExponentialRetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 2
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// NoDelayRetryPolicy retries up to maxAttempts total attempts without waiting.
func NoDelayRetryPolicy(maxAttempts int) *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		MaxAttempts: maxAttempts,
		Jitter:      func(time.Duration) time.Duration { return 0 },
	}
}

// ShouldRetry reports whether another attempt should follow a failed attempt.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// Backoff returns the wait before the attempt following attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + p.jitter(half)
}

func (p *ExponentialRetryPolicy) jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	if p.Jitter != nil {
		return p.Jitter(limit)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// Retry calls op until it succeeds or policy gives up. It returns the last
// value, the number of attempts made and the last error.
func Retry[T any](ctx context.Context, policy RetryPolicy, sleep Sleeper, op func(context.Context) (T, error)) (T, int, error) {
	if sleep == nil {
		sleep = SleepContext
	}
	var (
		val T
		err error
	)
	for attempt := 1; ; attempt++ {
		val, err = op(ctx)
		if err == nil {
			return val, attempt, nil
		}
		if policy == nil || !policy.ShouldRetry(err, attempt) {
			return val, attempt, err
		}
		if serr := sleep(ctx, policy.Backoff(attempt)); serr != nil {
			return val, attempt, err
		}
	}
}
