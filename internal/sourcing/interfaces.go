package sourcing

import (
	"context"
	"time"

	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
)

// SourceConnector fetches what one data source knows about an NSN.
type SourceConnector interface {
	Name() Source
	Fetch(ctx context.Context, item nsn.NSN) (RawSourceRecord, error)
}

// ContactEnricher discovers contact details for a company.
type ContactEnricher interface {
	Discover(ctx context.Context, company, cage string) (ContactRecord, error)
}

// Drafter writes an outreach email for a supplier.
type Drafter interface {
	Draft(ctx context.Context, item nsn.NSN, supplier Supplier) (string, error)
}

// ProgressStore persists BatchProgress. Save must replace the stored value
// atomically: a reader sees either the previous or the new progress.
type ProgressStore interface {
	Load(ctx context.Context) (BatchProgress, error)
	Save(ctx context.Context, progress BatchProgress) error
	Reset(ctx context.Context) error
}

// ResultSink receives terminal item results.
type ResultSink interface {
	Append(ctx context.Context, result ItemResult) error
	Close(ctx context.Context, summary BatchRunSummary) error
}

// Resetter is implemented by sinks that can discard previous output.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Limiter gates enricher calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// RetryPolicy decides whether and when to retry a failed call.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
