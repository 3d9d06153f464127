package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nsn-sourcing/internal/queue"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan queue.Batch, 1)
	errCh := make(chan error, 1)

	go func() {
		batch, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- batch
	}()

	require.NoError(t, q.Enqueue(context.Background(), queue.Batch{ID: "batch-1", Inputs: []string{"5306003733291"}}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "batch-1", got.ID)
		require.Equal(t, []string{"5306003733291"}, got.Inputs)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return batch")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), queue.Batch{ID: "primed"}))
	require.Equal(t, 1, full.Len())
	err = full.Enqueue(ctx, queue.Batch{ID: "overflow"})
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestQueueCloseDrainsThenReportsClosed(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), queue.Batch{ID: "pending"}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), queue.Batch{ID: "late"}), queue.ErrClosed)

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "pending", got.ID)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, queue.ErrClosed)
}
