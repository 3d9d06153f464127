// Package dibbs scrapes the DLA Internet Bid Board System RFQ page for an NSN.
//
// DIBBS serves a DoD consent interstitial before any content. Pages are first
// fetched over plain HTTP; when the promoter recognises the banner the page is
// loaded again in a headless browser that clicks through it.
package dibbs

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
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
	// DefaultBaseURL is the RFQ-by-NSN search page.
	DefaultBaseURL = "https://www.dibbs.bsm.dla.mil/rfq/rfqnsn.aspx"
	// ConsentSelector is the OK button on the DoD consent banner.
	ConsentSelector = `input[type="submit"][value="OK"]`

	siteRoot = "https://www.dibbs.bsm.dla.mil"
)

// ErrConsentRequired is returned when the consent banner could not be passed.
var ErrConsentRequired = errors.New("dibbs consent banner not accepted")

// Config configures the connector.
type Config struct {
	BaseURL string
}

// Connector implements sourcing.SourceConnector for DIBBS.
type Connector struct {
	baseURL  string
	root     string
	http     fetcher.Fetcher
	browser  fetcher.Fetcher
	promoter fetcher.Promoter
	pacer    connectors.Pacer
	now      func() time.Time
	logger   *zap.Logger
}

// Options carries the connector's collaborators. Browser and Promoter may be
// nil, in which case a consent banner fails the fetch.
type Options struct {
	HTTP     fetcher.Fetcher
	Browser  fetcher.Fetcher
	Promoter fetcher.Promoter
	Pacer    connectors.Pacer
	Now      func() time.Time
	Logger   *zap.Logger
}

// New builds a DIBBS connector.
func New(cfg Config, opts Options) (*Connector, error) {
	if opts.HTTP == nil {
		return nil, fmt.Errorf("dibbs: http fetcher is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("dibbs: parse base url: %w", err)
	}
	root := siteRoot
	if u.Scheme != "" && u.Host != "" {
		root = u.Scheme + "://" + u.Host
	}
	c := &Connector{
		baseURL:  base,
		root:     root,
		http:     opts.HTTP,
		browser:  opts.Browser,
		promoter: opts.Promoter,
		pacer:    connectors.PacerOrNop(opts.Pacer),
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Name implements sourcing.SourceConnector.
func (c *Connector) Name() sourcing.Source { return sourcing.SourceDIBBS }

// URL returns the search page for item.
func (c *Connector) URL(item nsn.NSN) string {
	return c.baseURL + "?snsn=" + url.QueryEscape(item.String())
}

// Fetch loads and parses the DIBBS page for item.
func (c *Connector) Fetch(ctx context.Context, item nsn.NSN) (sourcing.RawSourceRecord, error) {
	target := c.URL(item)
	page, err := c.load(ctx, fetcher.Request{URL: target})
	if err != nil {
		return sourcing.RawSourceRecord{}, sourcing.AsConnectorError(c.Name(), page.StatusCode, err)
	}

	record, err := Parse(page.Body, item, target, c.now())
	if err != nil {
		return sourcing.RawSourceRecord{}, sourcing.AsConnectorError(c.Name(), 0, err)
	}
	if page.ConsentAccepted {
		record.Attributes["consent_accepted"] = "true"
	}
	return record, nil
}

// load fetches req.URL over plain HTTP and, when the consent banner is detected,
// loads it again in the browser with the rest of req.
func (c *Connector) load(ctx context.Context, req fetcher.Request) (fetcher.Page, error) {
	if err := c.pacer.Wait(ctx, req.URL); err != nil {
		return fetcher.Page{}, err
	}
	page, err := c.http.Fetch(ctx, fetcher.Request{URL: req.URL, Headers: req.Headers})
	if err != nil {
		return page, err
	}
	if c.promoter == nil || !c.promoter.ShouldPromote(page) {
		return page, nil
	}
	if c.browser == nil {
		return fetcher.Page{}, ErrConsentRequired
	}
	c.logger.Debug("dibbs consent banner detected, loading in browser", zap.String("url", req.URL))
	req.ConsentSelector = ConsentSelector
	return c.browser.Fetch(ctx, req)
}

var (
	headerNSNRe   = regexp.MustCompile(`NSN:\s*([\d-]+)`)
	nomenclRe     = regexp.MustCompile(`(?s)Nomenclature:\s*(.+?)(?:\s*AMSC:|$)`)
	amscRe        = regexp.MustCompile(`AMSC:\s*(\w+)`)
	consentMarker = []byte("Notice and Consent")
)

// Parse extracts approved sources, solicitations and header attributes from a
// DIBBS RFQ page. A page carrying none of them yields a not-found error.
func Parse(body []byte, item nsn.NSN, pageURL string, now time.Time) (sourcing.RawSourceRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return sourcing.RawSourceRecord{}, sourcing.NewConnectorError(sourcing.SourceDIBBS, sourcing.KindInvalid, 0, err)
	}
	record := connectors.NewRecord(sourcing.SourceDIBBS, item, pageURL, now)

	header := doc.Find("fieldset").First().Text()
	if m := headerNSNRe.FindStringSubmatch(header); m != nil {
		record.Attributes["nsn"] = m[1]
	}
	if m := nomenclRe.FindStringSubmatch(header); m != nil {
		record.Attributes["nomenclature"] = connectors.CleanText(m[1])
	}
	if m := amscRe.FindStringSubmatch(header); m != nil {
		record.Attributes["amsc"] = m[1]
	}

	record.Suppliers = approvedSources(doc)
	record.Opportunities = solicitations(doc)

	if record.Attributes["nsn"] == "" && len(record.Suppliers) == 0 && len(record.Opportunities) == 0 {
		if bytes.Contains(body, consentMarker) {
			return sourcing.RawSourceRecord{}, sourcing.NewConnectorError(sourcing.SourceDIBBS, sourcing.KindUnknown, 0, ErrConsentRequired)
		}
		return sourcing.RawSourceRecord{}, sourcing.NewConnectorError(
			sourcing.SourceDIBBS, sourcing.KindNotFound, 0,
			fmt.Errorf("no dibbs data for %s", item.Dashed()),
		)
	}
	return record, nil
}

func approvedSources(doc *goquery.Document) []sourcing.SupplierRef {
	var out []sourcing.SupplierRef
	fieldset := doc.Find("fieldset").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), "Approved Source Data")
	}).First()
	connectors.DataRows(fieldset.Find("table").First(), 3, func(cells *goquery.Selection) {
		cage := strings.ToUpper(connectors.CellText(cells, 0))
		if len(cage) != 5 || strings.HasPrefix(cage, "SPE") {
			return
		}
		out = append(out, sourcing.SupplierRef{
			CAGE:       cage,
			PartNumber: connectors.CellText(cells, 1),
			Name:       connectors.CellText(cells, 2),
		})
	})
	return out
}

func solicitations(doc *goquery.Document) []sourcing.Opportunity {
	var out []sourcing.Opportunity
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		// Nested layout tables also contain the header text; only the
		// innermost results table has the data rows directly.
		if table.Find("table").Length() > 0 {
			return
		}
		text := table.Text()
		if !strings.Contains(text, "NSN/Part Number") && !strings.Contains(text, "RFQ/Quote") {
			return
		}
		connectors.DataRows(table, 9, func(cells *goquery.Selection) {
			if opp, ok := solicitationRow(cells); ok {
				out = append(out, opp)
			}
		})
	})
	return out
}

func solicitationRow(cells *goquery.Selection) (sourcing.Opportunity, bool) {
	solCell := cells.Eq(4)
	number := connectors.FirstLine(solCell)
	if number == "" {
		return sourcing.Opportunity{}, false
	}
	opp := sourcing.Opportunity{
		Source:      sourcing.SourceDIBBS,
		Number:      number,
		Title:       connectors.CellText(cells, 2),
		Status:      normalizeStatus(connectors.FirstLine(cells.Eq(5))),
		PostedDate:  sourcing.NormalizeDate(connectors.CellText(cells, 7)),
		ClosingDate: sourcing.NormalizeDate(connectors.CellText(cells, 8)),
	}
	if href, ok := solCell.Find("a").First().Attr("href"); ok {
		opp.URL = absolute(href)
	}
	cells.Eq(3).Find("a").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok && strings.TrimSpace(href) != "" {
			opp.DocumentURLs = append(opp.DocumentURLs, absolute(href))
		}
	})
	prLines := connectors.Lines(cells.Eq(6))
	if len(prLines) > 0 {
		opp.Description = "PR " + prLines[0]
	}
	for _, line := range prLines {
		if strings.Contains(strings.ToUpper(line), "QTY") {
			opp.Quantity = connectors.ParseQuantity(line)
		}
	}
	return opp, true
}

func normalizeStatus(raw string) string {
	switch {
	case strings.Contains(raw, "Open"):
		return "Open"
	case strings.Contains(raw, "Removed"):
		return "Removed"
	case strings.Contains(raw, "Cancel"):
		return "Cancelled"
	default:
		return raw
	}
}

func absolute(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "http") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return siteRoot + href
}
