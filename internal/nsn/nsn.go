// Package nsn validates and canonicalizes National Stock Numbers.
//
// The canonical form is the 13-digit string used by DIBBS queries. The display
// form groups those digits as XXXX-XX-XXX-XXXX, the way WBParts and most
// procurement notices print them.
package nsn

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Length is the number of digits in a canonical NSN.
const Length = 13

// ErrInvalid marks identifiers that cannot be normalized to a canonical NSN.
var ErrInvalid = errors.New("invalid nsn")

// NSN is a validated, canonical stock number.
type NSN string

// Parse normalizes raw input into an NSN. Surrounding whitespace and the
// separators '-', ' ' and '.' are ignored; everything else must be a digit.
func Parse(raw string) (NSN, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.Mark(errors.New("nsn is empty"), ErrInvalid)
	}
	var b strings.Builder
	b.Grow(Length)
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '.':
		default:
			return "", errors.Mark(errors.Newf("nsn %q contains non-digit character %q", raw, r), ErrInvalid)
		}
	}
	digits := b.String()
	if len(digits) != Length {
		return "", errors.Mark(
			errors.Newf("nsn %q has %d digits, want %d", raw, len(digits), Length),
			ErrInvalid,
		)
	}
	return NSN(digits), nil
}

// MustParse is Parse for constants in tests and examples.
func MustParse(raw string) NSN {
	n, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return n
}

// String returns the canonical 13-digit form.
func (n NSN) String() string {
	return string(n)
}

// Dashed returns the XXXX-XX-XXX-XXXX display form.
func (n NSN) Dashed() string {
	s := string(n)
	if len(s) != Length {
		return s
	}
	return s[0:4] + "-" + s[4:6] + "-" + s[6:9] + "-" + s[9:13]
}

// FSC returns the four-digit Federal Supply Class prefix.
func (n NSN) FSC() string {
	if len(n) < 4 {
		return ""
	}
	return string(n[:4])
}

// Valid reports whether raw parses.
func Valid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// Entry is one deduplicated batch input. Err is set when Raw failed to parse.
type Entry struct {
	Raw string
	NSN NSN
	Err error
}

// Key identifies the entry for deduplication and progress tracking.
func (e Entry) Key() string {
	if e.Err != nil {
		return strings.TrimSpace(e.Raw)
	}
	return e.NSN.String()
}

// Dedupe parses raw inputs and drops repeats, keeping first-seen order. Valid
// inputs collapse on their canonical form; invalid ones on their trimmed text.
// Blank lines are ignored.
func Dedupe(raw []string) []Entry {
	seen := make(map[string]struct{}, len(raw))
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		n, err := Parse(r)
		entry := Entry{Raw: r, NSN: n, Err: err}
		key := entry.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, entry)
	}
	return out
}

// SplitList splits comma, semicolon, tab or newline separated input into raw
// identifiers. Dashes are preserved so display forms survive.
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r' || r == '\t' || r == ';'
	})
}
