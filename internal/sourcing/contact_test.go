package sourcing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContactRecord_UnionCommutative(t *testing.T) {
	t.Parallel()

	a := ContactRecord{
		Emails:  []string{"Info@Acme.example ", "sales@acme.example"},
		Phones:  []string{"555-0100"},
		Persons: []ContactPerson{{Name: "Pat Lee", Email: "PAT@acme.example"}},
	}
	b := ContactRecord{
		Emails:    []string{"info@acme.example"},
		Phones:    []string{"555-0199", "555-0100"},
		Addresses: []string{"1 Main St, Springfield"},
		Websites:  []string{"HTTPS://ACME.EXAMPLE"},
	}

	ab := a.Union(b)
	require.Equal(t, ab, b.Union(a))
	require.Equal(t, ab, ab.Union(ab))
	require.Equal(t, []string{"info@acme.example", "sales@acme.example"}, ab.Emails)
	require.Equal(t, []string{"555-0100", "555-0199"}, ab.Phones)
	require.Equal(t, []string{"https://acme.example"}, ab.Websites)
	require.Equal(t, "pat@acme.example", ab.Persons[0].Email)
	require.True(t, ab.Complete())
	require.Equal(t, "info@acme.example", ab.PrimaryEmail())
	require.Equal(t, "555-0100", ab.PrimaryPhone())
}

func TestContactRecord_NormalizedDropsBlanks(t *testing.T) {
	t.Parallel()

	c := ContactRecord{Emails: []string{" ", ""}, Persons: []ContactPerson{{}}}.Normalized()
	require.True(t, c.Empty())
	require.Nil(t, c.Emails)
	require.Nil(t, c.Persons)
}

func TestTier(t *testing.T) {
	t.Parallel()

	full := ContactRecord{
		Emails:    []string{"a@b.example"},
		Phones:    []string{"1"},
		Addresses: []string{"x"},
		Websites:  []string{"https://b.example"},
	}
	tests := []struct {
		name string
		c    ContactRecord
		want ConfidenceTier
	}{
		{name: "all four", c: full, want: TierHigh},
		{name: "phone only", c: ContactRecord{Phones: []string{"1"}}, want: TierMedium},
		{name: "missing website", c: ContactRecord{Emails: full.Emails, Phones: full.Phones, Addresses: full.Addresses}, want: TierMedium},
		{name: "email no phone", c: ContactRecord{Emails: full.Emails, Addresses: full.Addresses, Websites: full.Websites}, want: TierLow},
		{name: "empty", c: ContactRecord{}, want: TierLow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Tier(tc.c))
			require.Equal(t, Tier(tc.c), Tier(tc.c))
		})
	}
}

func TestSupplierMarshalIncludesConfidence(t *testing.T) {
	t.Parallel()

	s := Supplier{Key: "acme", Name: "Acme", Contact: ContactRecord{Phones: []string{"1"}}}
	data, err := s.MarshalJSON()
	require.NoError(t, err)
	require.Contains(t, string(data), `"confidence":"MEDIUM"`)
	require.Contains(t, string(data), `"name":"Acme"`)
}
