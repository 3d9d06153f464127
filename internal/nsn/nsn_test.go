package nsn

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want NSN
		err  string
	}{
		{name: "dashed", raw: "5306-00-373-3291", want: "5306003733291"},
		{name: "undashed", raw: "5306003733291", want: "5306003733291"},
		{name: "padded", raw: "  5306-00-373-3291\n", want: "5306003733291"},
		{name: "spaced", raw: "5306 00 373 3291", want: "5306003733291"},
		{name: "empty", raw: "   ", err: "empty"},
		{name: "short", raw: "5306-00-373-329", err: "has 12 digits"},
		{name: "long", raw: "53060037332911", err: "has 14 digits"},
		{name: "letters", raw: "5306-00-373-329A", err: "non-digit"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tc.raw)
			if tc.err != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.err)
				require.True(t, errors.Is(err, ErrInvalid))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDashedAndUndashedFormsAgree(t *testing.T) {
	t.Parallel()

	for _, canonical := range []string{"5306003733291", "4730012345678", "0000000000000"} {
		n := MustParse(canonical)
		fromDashed, err := Parse(n.Dashed())
		require.NoError(t, err)
		require.Equal(t, n, fromDashed)
		require.Equal(t, canonical, fromDashed.String())
	}
}

func TestDashed(t *testing.T) {
	t.Parallel()

	require.Equal(t, "5306-00-373-3291", MustParse("5306003733291").Dashed())
	require.Equal(t, "5306", MustParse("5306003733291").FSC())
}

func TestDedupeCollapsesForms(t *testing.T) {
	t.Parallel()

	entries := Dedupe([]string{"5306-00-373-3291", "5306003733291", "", "bad", " bad ", "4730-01-234-5678"})
	require.Len(t, entries, 3)
	require.Equal(t, NSN("5306003733291"), entries[0].NSN)
	require.Error(t, entries[1].Err)
	require.Equal(t, "bad", entries[1].Key())
	require.Equal(t, "4730012345678", entries[2].Key())
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	got := SplitList("5306-00-373-3291, 4730012345678\n\n1234;5678")
	require.Equal(t, []string{"5306-00-373-3291", " 4730012345678", "1234", "5678"}, got)
}
