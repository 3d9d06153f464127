package sourcing

import (
	"sort"
	"strings"
)

// Merge folds the suppliers named by successful records into one Supplier per
// normalized company name. Records that failed, and references without a
// usable name, are ignored. The result is sorted by key and independent of
// record order.
func Merge(records []RawSourceRecord) []Supplier {
	var singles []Supplier
	for _, rec := range records {
		if !rec.OK {
			continue
		}
		for _, ref := range rec.Suppliers {
			singles = append(singles, supplierFromRef(rec.Source, ref))
		}
	}
	return MergeSuppliers(singles)
}

// MergeSuppliers unions suppliers that share a normalized name. Merging an
// already merged list returns an equal list.
func MergeSuppliers(suppliers ...[]Supplier) []Supplier {
	groups := make(map[string]*Supplier)
	for _, list := range suppliers {
		for _, s := range list {
			key := NormalizeCompanyName(s.Name)
			if key == "" {
				continue
			}
			acc, ok := groups[key]
			if !ok {
				acc = &Supplier{Key: key}
				groups[key] = acc
			}
			foldSupplier(acc, s)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Supplier, 0, len(keys))
	for _, k := range keys {
		s := groups[k]
		if len(s.Aliases) > 0 {
			s.Name = s.Aliases[0]
		}
		out = append(out, *s)
	}
	return out
}

// CollectOpportunities gathers opportunities from successful records, dropping
// duplicates listed by the same source.
func CollectOpportunities(records []RawSourceRecord) []Opportunity {
	seen := make(map[string]struct{})
	var out []Opportunity
	for _, rec := range records {
		if !rec.OK {
			continue
		}
		for _, opp := range rec.Opportunities {
			if opp.Source == "" {
				opp.Source = rec.Source
			}
			key := string(opp.Source) + "|" + opp.Number + "|" + opp.URL + "|" + opp.Title
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, opp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// AnyOpen reports whether any opportunity is open.
func AnyOpen(opps []Opportunity) bool {
	for _, o := range opps {
		if o.IsOpen() {
			return true
		}
	}
	return false
}

// RankSuppliers orders suppliers by how many sources named them, then by key,
// and truncates to limit when limit > 0.
func RankSuppliers(suppliers []Supplier, limit int) []Supplier {
	out := append([]Supplier(nil), suppliers...)
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Sources) != len(out[j].Sources) {
			return len(out[i].Sources) > len(out[j].Sources)
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func supplierFromRef(source Source, ref SupplierRef) Supplier {
	s := Supplier{
		Name:    cleanName(ref.Name),
		Contact: ref.Contact,
	}
	if source != "" {
		s.Sources = []Source{source}
	}
	if s.Name != "" {
		s.Aliases = []string{s.Name}
	}
	if cage := strings.ToUpper(strings.TrimSpace(ref.CAGE)); cage != "" {
		s.CAGECodes = []string{cage}
	}
	if pn := strings.TrimSpace(ref.PartNumber); pn != "" {
		s.PartNumbers = []string{pn}
	}
	return s
}

func foldSupplier(acc *Supplier, s Supplier) {
	aliases := s.Aliases
	if name := cleanName(s.Name); name != "" {
		aliases = append(append([]string(nil), aliases...), name)
	}
	acc.Aliases = unionStrings(acc.Aliases, aliases)
	acc.CAGECodes = unionStrings(acc.CAGECodes, s.CAGECodes)
	acc.PartNumbers = unionStrings(acc.PartNumbers, s.PartNumbers)
	acc.Sources = unionSources(acc.Sources, s.Sources)
	acc.Contact = acc.Contact.Union(s.Contact)
	acc.EnrichError = minNonEmpty(acc.EnrichError, s.EnrichError)
	acc.EmailDraft = minNonEmpty(acc.EmailDraft, s.EmailDraft)
}

func unionSources(a, b []Source) []Source {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	set := make(map[Source]struct{}, len(a)+len(b))
	for _, list := range [][]Source{a, b} {
		for _, s := range list {
			if s != "" {
				set[s] = struct{}{}
			}
		}
	}
	out := make([]Source, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func cleanName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

func minNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case b < a:
		return b
	default:
		return a
	}
}
