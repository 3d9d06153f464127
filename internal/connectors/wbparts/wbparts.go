// Package wbparts scrapes manufacturer data from wbparts.com NSN pages.
package wbparts

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/nsn-sourcing/internal/connectors"
	"github.com/JakeFAU/nsn-sourcing/internal/fetcher"
	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// DefaultBaseURL is the RFQ page root; pages live at <base>/<dashed nsn>.html.
const DefaultBaseURL = "https://www.wbparts.com/rfq"

// Config configures the connector.
type Config struct {
	BaseURL string
}

// Connector implements sourcing.SourceConnector for WBParts.
type Connector struct {
	baseURL string
	fetch   fetcher.Fetcher
	pacer   connectors.Pacer
	now     func() time.Time
}

// New builds a WBParts connector on top of an HTTP fetcher.
func New(cfg Config, f fetcher.Fetcher, pacer connectors.Pacer, now func() time.Time) (*Connector, error) {
	if f == nil {
		return nil, fmt.Errorf("wbparts: fetcher is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if now == nil {
		now = time.Now
	}
	return &Connector{baseURL: base, fetch: f, pacer: connectors.PacerOrNop(pacer), now: now}, nil
}

// Name implements sourcing.SourceConnector.
func (c *Connector) Name() sourcing.Source { return sourcing.SourceWBParts }

// URL returns the page for item.
func (c *Connector) URL(item nsn.NSN) string {
	return c.baseURL + "/" + item.Dashed() + ".html"
}

// Fetch loads and parses the WBParts page for item.
func (c *Connector) Fetch(ctx context.Context, item nsn.NSN) (sourcing.RawSourceRecord, error) {
	target := c.URL(item)
	if err := c.pacer.Wait(ctx, target); err != nil {
		return sourcing.RawSourceRecord{}, sourcing.AsConnectorError(c.Name(), 0, err)
	}
	page, err := c.fetch.Fetch(ctx, fetcher.Request{URL: target})
	if err != nil {
		return sourcing.RawSourceRecord{}, sourcing.AsConnectorError(c.Name(), page.StatusCode, err)
	}
	return Parse(page.Body, item, target, c.now())
}

var (
	itemNameRe   = regexp.MustCompile(`(?i)Item Name[:\s]*([^<\n]+)`)
	incRe        = regexp.MustCompile(`(?i)\bINC[:\s]*(\d+)`)
	assignedRe   = regexp.MustCompile(`(?i)Assignment Date[:\s]*([^<\n]+)`)
	alternatesRe = regexp.MustCompile(`(?i)Part Alternates?[:\s]*([^<]+?)(?:<|$)`)
)

// Parse extracts manufacturers and item attributes from a WBParts page. A page
// without manufacturers is a valid, empty record.
func Parse(body []byte, item nsn.NSN, pageURL string, now time.Time) (sourcing.RawSourceRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return sourcing.RawSourceRecord{}, sourcing.NewConnectorError(sourcing.SourceWBParts, sourcing.KindInvalid, 0, err)
	}
	record := connectors.NewRecord(sourcing.SourceWBParts, item, pageURL, now)

	html := string(body)
	if m := itemNameRe.FindStringSubmatch(html); m != nil {
		record.Attributes["item_name"] = connectors.CleanText(m[1])
	}
	if m := incRe.FindStringSubmatch(html); m != nil {
		record.Attributes["inc"] = m[1]
	}
	if m := assignedRe.FindStringSubmatch(html); m != nil {
		record.Attributes["assignment_date"] = sourcing.NormalizeDate(connectors.CleanText(m[1]))
	}
	if m := alternatesRe.FindStringSubmatch(html); m != nil {
		record.Attributes["part_alternates"] = strings.Join(strings.FieldsFunc(m[1], func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		}), ",")
	}

	seen := map[string]bool{}
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		if table.Find("table").Length() > 0 {
			return
		}
		text := table.Text()
		if !strings.Contains(strings.ToUpper(text), "CAGE") &&
			!strings.Contains(text, "Manufacturer") &&
			!strings.Contains(text, "Part Number") {
			return
		}
		connectors.DataRows(table, 3, func(cells *goquery.Selection) {
			cage := strings.ToUpper(connectors.CellText(cells, 1))
			if !connectors.ValidCAGE(cage) {
				return
			}
			ref := sourcing.SupplierRef{
				PartNumber: connectors.CellText(cells, 0),
				CAGE:       cage,
				Name:       connectors.CellText(cells, 2),
			}
			key := ref.PartNumber + "|" + ref.CAGE + "|" + ref.Name
			if seen[key] {
				return
			}
			seen[key] = true
			record.Suppliers = append(record.Suppliers, ref)
		})
	})
	return record, nil
}
