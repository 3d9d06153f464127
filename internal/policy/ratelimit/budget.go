package ratelimit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
	"github.com/JakeFAU/nsn-sourcing/internal/telemetry"
)

// BudgetConfig configures a Budget limiter.
type BudgetConfig struct {
	// Name labels delay metrics.
	Name string
	// Budget is the maximum number of permits in any Window.
	Budget int
	// Window is the rolling accounting window. Zero means one minute.
	Window time.Duration
	// Interval is the minimum spacing between permits. Zero disables pacing.
	Interval time.Duration
	// Now and Sleep default to the wall clock.
	Now   func() time.Time
	Sleep sourcing.Sleeper
}

// Budget hands out at most Budget permits per rolling Window, spaced at least
// Interval apart. Acquirers are served one at a time: the whole acquire path
// runs while holding a single-permit semaphore.
type Budget struct {
	name     string
	budget   int
	window   time.Duration
	pace     *rate.Limiter
	now      func() time.Time
	sleep    sourcing.Sleeper
	gate     *semaphore.Weighted
	granted  []time.Time
	latest   time.Time
	acquired int
}

// NewBudget validates cfg and builds the limiter.
func NewBudget(cfg BudgetConfig) (*Budget, error) {
	if cfg.Budget <= 0 {
		return nil, errors.Newf("ratelimit: budget must be > 0, got %d", cfg.Budget)
	}
	if cfg.Window < 0 || cfg.Interval < 0 {
		return nil, errors.New("ratelimit: window and interval must not be negative")
	}
	b := &Budget{
		name:   cfg.Name,
		budget: cfg.Budget,
		window: cfg.Window,
		now:    cfg.Now,
		sleep:  cfg.Sleep,
		gate:   semaphore.NewWeighted(1),
	}
	if b.name == "" {
		b.name = "enrich"
	}
	if b.window == 0 {
		b.window = time.Minute
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.sleep == nil {
		b.sleep = sourcing.SleepContext
	}
	if cfg.Interval > 0 {
		b.pace = rate.NewLimiter(rate.Every(cfg.Interval), 1)
	}
	return b, nil
}

// Wait blocks until a permit is available. It returns the context error when
// ctx ends first and ErrRateLimiterBreach if the window accounting ever shows
// more permits than the budget.
func (b *Budget) Wait(ctx context.Context) error {
	if err := b.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer b.gate.Release(1)

	start := b.now()
	for {
		now := b.now()
		b.compact(now)
		n, oldest := b.count(now)
		if n < b.budget {
			break
		}
		if err := b.sleep(ctx, oldest.Add(b.window).Sub(now)); err != nil {
			return err
		}
	}

	if b.pace != nil {
		now := b.now()
		r := b.pace.ReserveN(now, 1)
		if d := r.DelayFrom(now); d > 0 {
			if err := b.sleep(ctx, d); err != nil {
				r.CancelAt(now)
				return err
			}
		}
	}

	now := b.now()
	b.compact(now)
	b.granted = append(b.granted, now)
	b.acquired++
	if n, _ := b.count(now); n > b.budget {
		return errors.Wrapf(sourcing.ErrRateLimiterBreach,
			"%s limiter: %d permits in %s exceeds budget %d", b.name, n, b.window, b.budget)
	}
	if d := now.Sub(start); d > time.Millisecond {
		telemetry.ObserveRateLimitDelay(b.name, d)
	}
	return nil
}

// InWindow returns how many permits were granted within the window ending now.
func (b *Budget) InWindow() int {
	if err := b.gate.Acquire(context.Background(), 1); err != nil {
		return 0
	}
	defer b.gate.Release(1)
	n, _ := b.count(b.now())
	return n
}

// Acquired returns the total number of permits granted.
func (b *Budget) Acquired() int {
	if err := b.gate.Acquire(context.Background(), 1); err != nil {
		return 0
	}
	defer b.gate.Release(1)
	return b.acquired
}

// count returns the grants inside the window ending at now and the oldest of
// them. Grants stamped after now, which only a clock stepping back produces,
// are counted.
func (b *Budget) count(now time.Time) (int, time.Time) {
	cutoff := now.Add(-b.window)
	var (
		n      int
		oldest time.Time
	)
	for _, g := range b.granted {
		if !g.After(cutoff) {
			continue
		}
		if n == 0 || g.Before(oldest) {
			oldest = g
		}
		n++
	}
	return n, oldest
}

// compact forgets grants older than two windows before the latest time seen.
func (b *Budget) compact(now time.Time) {
	if now.After(b.latest) {
		b.latest = now
	}
	cutoff := b.latest.Add(-2 * b.window)
	kept := b.granted[:0]
	for _, g := range b.granted {
		if g.After(cutoff) {
			kept = append(kept, g)
		}
	}
	b.granted = kept
}
