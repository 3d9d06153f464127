package sourcing

import (
	"sort"
	"strings"
)

// ContactPerson is a named contact discovered for a supplier.
type ContactPerson struct {
	Name  string `json:"name,omitempty"`
	Title string `json:"title,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ContactRecord holds every contact value found for a supplier. Conflicting
// values are all retained; each list is sorted and deduplicated.
type ContactRecord struct {
	Emails    []string        `json:"emails,omitempty"`
	Phones    []string        `json:"phones,omitempty"`
	Addresses []string        `json:"addresses,omitempty"`
	Websites  []string        `json:"websites,omitempty"`
	Persons   []ContactPerson `json:"persons,omitempty"`
}

// HasEmail reports whether at least one email is present.
func (c ContactRecord) HasEmail() bool { return len(c.Emails) > 0 }

// HasPhone reports whether at least one phone number is present.
func (c ContactRecord) HasPhone() bool { return len(c.Phones) > 0 }

// HasAddress reports whether at least one address is present.
func (c ContactRecord) HasAddress() bool { return len(c.Addresses) > 0 }

// HasWebsite reports whether at least one website is present.
func (c ContactRecord) HasWebsite() bool { return len(c.Websites) > 0 }

// Complete reports whether all four contact fields are present.
func (c ContactRecord) Complete() bool {
	return c.HasEmail() && c.HasPhone() && c.HasAddress() && c.HasWebsite()
}

// Empty reports whether nothing is known.
func (c ContactRecord) Empty() bool {
	return !c.HasEmail() && !c.HasPhone() && !c.HasAddress() && !c.HasWebsite() && len(c.Persons) == 0
}

// Union merges two records. It is commutative and idempotent.
func (c ContactRecord) Union(other ContactRecord) ContactRecord {
	return ContactRecord{
		Emails:    unionFold(c.Emails, other.Emails),
		Phones:    unionStrings(c.Phones, other.Phones),
		Addresses: unionStrings(c.Addresses, other.Addresses),
		Websites:  unionFold(c.Websites, other.Websites),
		Persons:   unionPersons(c.Persons, other.Persons),
	}
}

// Normalized returns the record with lists cleaned, sorted and deduplicated.
func (c ContactRecord) Normalized() ContactRecord {
	return c.Union(ContactRecord{})
}

// PrimaryEmail returns the first email in sorted order.
func (c ContactRecord) PrimaryEmail() string {
	if len(c.Emails) == 0 {
		return ""
	}
	return c.Emails[0]
}

// PrimaryPhone returns the first phone in sorted order.
func (c ContactRecord) PrimaryPhone() string {
	if len(c.Phones) == 0 {
		return ""
	}
	return c.Phones[0]
}

func unionStrings(a, b []string) []string {
	return unionBy(a, b, strings.TrimSpace)
}

func unionFold(a, b []string) []string {
	return unionBy(a, b, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

func unionBy(a, b []string, clean func(string) string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			v = clean(v)
			if v == "" {
				continue
			}
			set[v] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func unionPersons(a, b []ContactPerson) []ContactPerson {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	set := make(map[ContactPerson]struct{}, len(a)+len(b))
	for _, list := range [][]ContactPerson{a, b} {
		for _, p := range list {
			p = ContactPerson{
				Name:  strings.TrimSpace(p.Name),
				Title: strings.TrimSpace(p.Title),
				Email: strings.ToLower(strings.TrimSpace(p.Email)),
				Phone: strings.TrimSpace(p.Phone),
			}
			if p == (ContactPerson{}) {
				continue
			}
			set[p] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]ContactPerson, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if out[i].Email != out[j].Email {
			return out[i].Email < out[j].Email
		}
		if out[i].Phone != out[j].Phone {
			return out[i].Phone < out[j].Phone
		}
		return out[i].Title < out[j].Title
	})
	return out
}
