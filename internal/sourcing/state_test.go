package sourcing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMachine_HappyPath(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	for _, next := range []State{StateValidating, StateScraping, StateMerging, StateEnriching, StateScoring, StateComplete} {
		require.NoError(t, m.To(next))
	}
	require.Equal(t, StateComplete, m.State())
	require.Len(t, m.History(), 7)
	require.Error(t, m.To(StateFailed))
}

func TestMachine_RejectsSkips(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	require.Error(t, m.To(StateScraping))
	require.NoError(t, m.To(StateValidating))
	require.Error(t, m.To(StateEnriching))
	require.NoError(t, m.To(StateFailed))
	require.True(t, m.State().Terminal())
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	require.True(t, CanTransition(StatePending, StateSkipped))
	require.False(t, CanTransition(StateScraping, StateSkipped))
	require.True(t, CanTransition(StateEnriching, StateFailed))
	require.False(t, CanTransition(StateSkipped, StateValidating))
	require.False(t, CanTransition(StateComplete, StateFailed))
}

func TestBatchProgress_Record(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := NewBatchProgress("run-1")
	p.Record(ItemResult{Key: "a", Status: ItemComplete, FinishedAt: now})
	p.Record(ItemResult{Key: "b", Status: ItemFailed, Reason: "invalid", FinishedAt: now.Add(time.Second)})
	p.Record(ItemResult{Key: "c", Status: ItemSkipped, Reason: "interrupted"})

	require.True(t, p.Done("a"))
	require.True(t, p.Done("b"))
	require.False(t, p.Done("c"))
	require.Equal(t, []string{"a", "b"}, p.Keys())
	require.Equal(t, now.Add(time.Second), p.UpdatedAt)

	clone := p.Clone()
	clone.Items["z"] = ProgressEntry{Status: ItemComplete}
	require.False(t, p.Done("z"))
}

func TestBatchRunSummary_Add(t *testing.T) {
	t.Parallel()

	var s BatchRunSummary
	s.Add(ItemResult{Key: "a", Status: ItemPartial, Suppliers: []Supplier{{
		Contact: ContactRecord{
			Emails: []string{"e"}, Phones: []string{"p"}, Addresses: []string{"a"}, Websites: []string{"w"},
		},
	}, {}}})
	s.Add(ItemResult{Key: "b", Status: ItemFailed})
	s.Add(ItemResult{Key: "c", Status: ItemSkipped})

	require.Equal(t, 1, s.Complete)
	require.Equal(t, 1, s.Failed)
	require.Equal(t, 1, s.Skipped)
	require.Equal(t, 2, s.Suppliers)
	require.Equal(t, 1, s.HighConfidence)
	require.Equal(t, ItemComplete, s.Items[0].Status)
}

func TestItemResult_OpenStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ERROR", ItemResult{Status: ItemFailed, HasOpenRFQ: true}.OpenStatus())
	require.Equal(t, "OPEN", ItemResult{Status: ItemComplete, HasOpenRFQ: true}.OpenStatus())
	require.Equal(t, "CLOSED", ItemResult{Status: ItemPartial}.OpenStatus())
	require.Equal(t, "5306-00-373-3291", ItemResult{NSN: "5306003733291"}.DisplayNSN())
	require.Equal(t, "bogus", ItemResult{Key: "bogus"}.DisplayNSN())
}
