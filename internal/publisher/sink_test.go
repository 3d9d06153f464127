package publisher_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nsn-sourcing/internal/publisher"
	"github.com/JakeFAU/nsn-sourcing/internal/publisher/memory"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

func TestResultSinkPublishesEnvelopes(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink, err := publisher.NewResultSink(pub, "nsn-results", "nightly")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sink.Append(ctx, sourcing.ItemResult{Key: "5306003733291", Status: sourcing.ItemComplete}))
	require.NoError(t, sink.Close(ctx, sourcing.BatchRunSummary{RunID: "run-1", Complete: 1}))

	msgs := pub.Messages("nsn-results")
	require.Len(t, msgs, 2)
	item := msgs[0].Payload.(publisher.Message)
	require.Equal(t, publisher.TypeItemFinished, item.Type)
	require.Equal(t, "nightly", item.RunKey)
	require.Equal(t, "5306003733291", item.Item.Key)
	run := msgs[1].Payload.(publisher.Message)
	require.Equal(t, publisher.TypeRunFinished, run.Type)
	require.Equal(t, 1, run.Run.Complete)

	pub.Err = errors.New("broker down")
	require.ErrorContains(t, sink.Append(ctx, sourcing.ItemResult{Key: "x"}), "publish item x")
}

func TestNewResultSinkValidation(t *testing.T) {
	t.Parallel()

	_, err := publisher.NewResultSink(nil, "t", "k")
	require.Error(t, err)
	_, err = publisher.NewResultSink(memory.New(), "", "k")
	require.Error(t, err)
}
