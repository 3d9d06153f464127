// Package connectors holds helpers shared by the per-source connectors in its
// subpackages: HTML table walking, text cleanup and host pacing.
package connectors

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// Pacer waits for a request slot for the host of rawURL.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

type nopPacer struct{}

func (nopPacer) Wait(context.Context, string) error { return nil }

// PacerOrNop returns p, or a pacer that never waits when p is nil.
func PacerOrNop(p Pacer) Pacer {
	if p == nil {
		return nopPacer{}
	}
	return p
}

// NewRecord starts a successful record for item.
func NewRecord(source sourcing.Source, item nsn.NSN, url string, now time.Time) sourcing.RawSourceRecord {
	return sourcing.RawSourceRecord{
		Source:     source,
		NSN:        item,
		OK:         true,
		URL:        url,
		FetchedAt:  now.UTC(),
		Attributes: map[string]string{},
	}
}

// CleanText collapses runs of whitespace into single spaces.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Lines renders sel as text where <br> and block boundaries become newlines,
// then returns the cleaned non-empty lines.
func Lines(sel *goquery.Selection) []string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		writeText(&b, n)
	}
	var out []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = CleanText(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// FirstLine returns the first line of Lines(sel), or "".
func FirstLine(sel *goquery.Selection) string {
	lines := Lines(sel)
	if len(lines) == 0 {
		return ""
	}
	return lines[0]
}

var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true,
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "br" {
			b.WriteByte('\n')
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if n.Type == html.ElementNode && blockTags[n.Data] {
		b.WriteByte('\n')
	}
}

// DataRows calls fn for every row of table after the header row that has at
// least minCells <td> cells.
func DataRows(table *goquery.Selection, minCells int, fn func(cells *goquery.Selection)) {
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := row.ChildrenFiltered("td")
		if cells.Length() < minCells {
			return
		}
		fn(cells)
	})
}

// CellText returns the cleaned text of the i-th cell.
func CellText(cells *goquery.Selection, i int) string {
	return CleanText(cells.Eq(i).Text())
}

// ContainsNSN reports whether text mentions item in dashed or plain form.
func ContainsNSN(text string, item nsn.NSN) bool {
	if item == "" {
		return false
	}
	return strings.Contains(text, item.String()) || strings.Contains(text, item.Dashed())
}

var cageRe = regexp.MustCompile(`^[A-Z0-9]{5}$`)

// ValidCAGE reports whether code looks like a five-character CAGE code.
func ValidCAGE(code string) bool {
	return cageRe.MatchString(strings.ToUpper(strings.TrimSpace(code)))
}

var quantityRe = regexp.MustCompile(`(\d[\d,]*)`)

// ParseQuantity extracts the first integer from s, ignoring thousands
// separators. It returns 0 when none is present.
func ParseQuantity(s string) int {
	m := quantityRe.FindString(s)
	if m == "" {
		return 0
	}
	n := 0
	for _, r := range m {
		if r == ',' {
			continue
		}
		n = n*10 + int(r-'0')
		if n > 1<<30 {
			return 0
		}
	}
	return n
}
