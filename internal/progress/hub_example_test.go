package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		RunID: ParseRunID("nightly"),
		TS:    time.Unix(0, 0),
		Stage: StageRunStart,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that totals suppliers found per run.
func ExampleSink() {
	var suppliers int64
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageItemDone {
				suppliers += evt.Suppliers
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     2,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, capture)

	hub.Emit(Event{
		RunID:     ParseRunID("nightly"),
		TS:        time.Unix(0, 0),
		Stage:     StageItemDone,
		Item:      "5306003733291",
		Status:    "complete",
		Suppliers: 3,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("suppliers found: %d\n", suppliers)
	// Output:
	// suppliers found: 3
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
