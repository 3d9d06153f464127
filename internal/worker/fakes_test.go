package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/progress"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

type fakeConnector struct {
	name  sourcing.Source
	fetch func(ctx context.Context, n nsn.NSN, attempt int) (sourcing.RawSourceRecord, error)
	calls atomic.Int32
}

func (f *fakeConnector) Name() sourcing.Source { return f.name }

func (f *fakeConnector) Fetch(ctx context.Context, n nsn.NSN) (sourcing.RawSourceRecord, error) {
	attempt := int(f.calls.Add(1))
	return f.fetch(ctx, n, attempt)
}

func suppliersFrom(source sourcing.Source, names ...string) *fakeConnector {
	return &fakeConnector{
		name: source,
		fetch: func(_ context.Context, n nsn.NSN, _ int) (sourcing.RawSourceRecord, error) {
			rec := sourcing.RawSourceRecord{Source: source, NSN: n}
			for _, name := range names {
				rec.Suppliers = append(rec.Suppliers, sourcing.SupplierRef{Name: name})
			}
			return rec, nil
		},
	}
}

func failing(source sourcing.Source, kind sourcing.ConnectorErrorKind, status int) *fakeConnector {
	return &fakeConnector{
		name: source,
		fetch: func(context.Context, nsn.NSN, int) (sourcing.RawSourceRecord, error) {
			return sourcing.RawSourceRecord{}, sourcing.NewConnectorError(source, kind, status, nil)
		},
	}
}

type fakeEnricher struct {
	mu       sync.Mutex
	contacts map[string]sourcing.ContactRecord
	errs     map[string]error
	calls    []string
}

func (f *fakeEnricher) Discover(_ context.Context, company, _ string) (sourcing.ContactRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, company)
	if err := f.errs[company]; err != nil {
		return sourcing.ContactRecord{}, err
	}
	return f.contacts[company], nil
}

func (f *fakeEnricher) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeLimiter struct {
	err   error
	waits atomic.Int32
}

func (f *fakeLimiter) Wait(ctx context.Context) error {
	f.waits.Add(1)
	if f.err != nil {
		return f.err
	}
	return ctx.Err()
}

type fakeDrafter struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeDrafter) Draft(_ context.Context, item nsn.NSN, s sourcing.Supplier) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s.Name)
	return "Dear " + s.Name + ", please quote " + item.Dashed(), nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() map[progress.Stage]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[progress.Stage]int{}
	for _, e := range r.events {
		out[e.Stage]++
	}
	return out
}
