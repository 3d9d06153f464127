package sourcing

import (
	"strings"
	"unicode"
)

// NormalizeCompanyName folds a company name into its merge key: lowercase,
// punctuation such as the dots and commas around "Corp." or "Inc," dropped,
// other separators turned into spaces and whitespace collapsed. "ABC Corp."
// and "abc  corp" share a key; "ABC Corporation" does not.
func NormalizeCompanyName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case r == '&':
			b.WriteRune(r)
		case r == '.' || r == ',' || r == '\'' || r == '’' || r == '"' || r == '(' || r == ')':
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
