// Package ratelimit implements the process-wide enrichment budget and the
// per-host pacing used by source connectors.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/nsn-sourcing/internal/telemetry"
)

// HostLimiter paces requests per host.
type HostLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// HostConfig holds per-host limiter configuration.
type HostConfig struct {
	RPS   float64
	Burst int
}

// NewHostLimiter creates a HostLimiter. A non-positive RPS disables pacing.
func NewHostLimiter(cfg HostConfig) *HostLimiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the URL's host.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	host := HostOf(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		telemetry.ObserveRateLimitDelay(host, d)
	}
	return nil
}

// HostOf returns the lowercase host of rawURL, or "unknown".
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
