package dibbs

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/nsn-sourcing/internal/connectors"
	"github.com/JakeFAU/nsn-sourcing/internal/fetcher"
	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

const (
	datesPath      = "/Rfq/RfqDates.aspx?category=issue"
	recordsPath    = "/RFQ/RfqRecs.aspx?category=issue&TypeSrch=dt&Value="
	resultsTableID = "#ctl00_cph1_grdRfqSearch"
	issueLayout    = "01-02-2006"
)

// ErrInvalidDate is returned for issue dates that cannot be read.
var ErrInvalidDate = errors.New("dibbs: issue date must be MM-DD-YYYY")

var (
	issueDateRe = regexp.MustCompile(`^\d{2}-\d{2}-\d{4}$`)
	pageCountRe = regexp.MustCompile(`Page\s+\d+\s+of\s+(\d+)`)
)

// Listing is one open solicitation line on an issue-date page.
type Listing struct {
	NSN          nsn.NSN `json:"nsn,omitempty"`
	PartNumber   string  `json:"part_number"`
	Nomenclature string  `json:"nomenclature"`
	Solicitation string  `json:"solicitation"`
	Quantity     int     `json:"quantity"`
	IssueDate    string  `json:"issue_date"`
	ReturnByDate string  `json:"return_by_date"`
}

// DateListings is everything DIBBS lists as open for one issue date.
type DateListings struct {
	Date         string    `json:"date"`
	TotalPages   int       `json:"total_pages"`
	PagesScraped int       `json:"pages_scraped"`
	Listings     []Listing `json:"listings"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

// NSNs returns the distinct NSNs of the listings in page order, ready to be
// used as batch input. Part-number-only lines are left out.
func (d DateListings) NSNs() []string {
	seen := make(map[nsn.NSN]bool, len(d.Listings))
	var out []string
	for _, l := range d.Listings {
		if l.NSN == "" || seen[l.NSN] {
			continue
		}
		seen[l.NSN] = true
		out = append(out, l.NSN.Dashed())
	}
	return out
}

// IssueDate converts raw to the MM-DD-YYYY form DIBBS uses in its listing URLs.
// ISO and slash-separated dates are accepted as well.
func IssueDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if issueDateRe.MatchString(raw) {
		if _, err := time.Parse(issueLayout, raw); err != nil {
			return "", errors.Wrapf(ErrInvalidDate, "%q", raw)
		}
		return raw, nil
	}
	t, err := time.Parse("2006-01-02", sourcing.NormalizeDate(raw))
	if err != nil {
		return "", errors.Wrapf(ErrInvalidDate, "%q", raw)
	}
	return t.Format(issueLayout), nil
}

// AvailableDates lists the RFQ issue dates DIBBS currently publishes, newest
// first as the site orders them.
func (c *Connector) AvailableDates(ctx context.Context) ([]string, error) {
	page, err := c.load(ctx, fetcher.Request{URL: c.root + datesPath})
	if err != nil {
		return nil, errors.Wrap(err, "dibbs: load issue dates")
	}
	return ParseIssueDates(page.Body)
}

// NSNsByDate collects the open solicitations issued on date, following the
// result pager in the browser for up to maxPages pages (0 means the fetcher
// default). Without a browser only the first page is read.
func (c *Connector) NSNsByDate(ctx context.Context, date string, maxPages int) (DateListings, error) {
	day, err := IssueDate(date)
	if err != nil {
		return DateListings{}, err
	}
	page, err := c.load(ctx, fetcher.Request{
		URL:      c.root + recordsPath + url.QueryEscape(day),
		NextPage: pagerLink,
		MaxPages: maxPages,
	})
	if err != nil {
		return DateListings{}, errors.Wrapf(err, "dibbs: load listings for %s", day)
	}

	out := DateListings{Date: day, ScrapedAt: c.now().UTC()}
	for i, body := range page.Pages() {
		listings, total, err := ParseListings(body)
		if err != nil {
			return out, errors.Wrapf(err, "dibbs: page %d for %s", i+1, day)
		}
		if i == 0 {
			out.TotalPages = total
		}
		out.Listings = append(out.Listings, listings...)
		out.PagesScraped++
	}
	c.logger.Info("dibbs listings collected",
		zap.String("date", day),
		zap.Int("pages", out.PagesScraped),
		zap.Int("total_pages", out.TotalPages),
		zap.Int("listings", len(out.Listings)),
	)
	return out, nil
}

// pagerLink finds the ASP.NET postback link to page n+1.
func pagerLink(n int) string {
	return fmt.Sprintf(`//a[contains(@href, "__doPostBack") and normalize-space(text())="%d"]`, n+1)
}

// ParseIssueDates extracts the MM-DD-YYYY link texts of the issue-date index.
func ParseIssueDates(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse issue dates: %w", err)
	}
	if bytes.Contains(body, consentMarker) && doc.Find(`a[href*="RfqRecs.aspx"]`).Length() == 0 {
		return nil, ErrConsentRequired
	}
	seen := map[string]bool{}
	var dates []string
	doc.Find(`a[href*="RfqRecs.aspx"]`).Each(func(_ int, a *goquery.Selection) {
		text := connectors.CleanText(a.Text())
		if issueDateRe.MatchString(text) && !seen[text] {
			seen[text] = true
			dates = append(dates, text)
		}
	})
	return dates, nil
}

// ParseListings reads one page of issue-date results. It returns the open
// lines and the total page count the pager reports.
func ParseListings(body []byte) ([]Listing, int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("parse listings: %w", err)
	}
	table := listingTable(doc)
	if table == nil {
		if bytes.Contains(body, consentMarker) {
			return nil, 0, ErrConsentRequired
		}
		return nil, totalPages(doc), nil
	}

	var out []Listing
	directRows(table).Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < 9 {
			return
		}
		part := connectors.FirstLine(cells.Eq(1))
		if part == "" || strings.Contains(part, "NSN/Part Number") {
			return
		}
		if !strings.Contains(connectors.FirstLine(cells.Eq(5)), "Open") {
			return
		}
		l := Listing{
			PartNumber:   part,
			Nomenclature: connectors.CellText(cells, 2),
			Solicitation: connectors.FirstLine(cells.Eq(4)),
			IssueDate:    sourcing.NormalizeDate(connectors.CellText(cells, 7)),
			ReturnByDate: sourcing.NormalizeDate(connectors.CellText(cells, 8)),
		}
		if n, err := nsn.Parse(part); err == nil {
			l.NSN = n
		}
		for _, line := range connectors.Lines(cells.Eq(6)) {
			if strings.Contains(strings.ToUpper(line), "QTY") {
				l.Quantity = connectors.ParseQuantity(line)
			}
		}
		out = append(out, l)
	})
	return out, totalPages(doc), nil
}

// listingTable prefers the results grid by id and otherwise takes the first
// table whose own header row names the NSN column. Layout tables wrap the
// grid, so only rows with nine cells of their own count as a header.
func listingTable(doc *goquery.Document) *goquery.Selection {
	if t := doc.Find(resultsTableID).First(); t.Length() > 0 {
		return t
	}
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, t *goquery.Selection) bool {
		directRows(t).EachWithBreak(func(_ int, row *goquery.Selection) bool {
			cells := row.ChildrenFiltered("td, th")
			if cells.Length() >= 9 && strings.Contains(cells.Text(), "NSN/Part Number") {
				found = t
				return false
			}
			return true
		})
		return found == nil
	})
	return found
}

func directRows(table *goquery.Selection) *goquery.Selection {
	return table.ChildrenFiltered("thead, tbody").ChildrenFiltered("tr")
}

func totalPages(doc *goquery.Document) int {
	if m := pageCountRe.FindStringSubmatch(doc.Text()); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	total := 1
	doc.Find(`a[href*="__doPostBack"]`).Each(func(_ int, a *goquery.Selection) {
		if n, err := strconv.Atoi(connectors.CleanText(a.Text())); err == nil && n > total {
			total = n
		}
	})
	return total
}
