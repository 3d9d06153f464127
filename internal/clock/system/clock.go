// Package system provides the wall-clock time source used outside tests.
package system

import (
	"context"
	"time"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// Clock implements sourcing.Clock using time.Now. Sleep satisfies
// sourcing.Sleeper so limiter and retry waits share one time source.
type Clock struct{}

var _ sourcing.Clock = Clock{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Sleep blocks for d or until ctx is done.
func (Clock) Sleep(ctx context.Context, d time.Duration) error {
	return sourcing.SleepContext(ctx, d)
}
