package dibbs_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nsn-sourcing/internal/connectors/dibbs"
	"github.com/JakeFAU/nsn-sourcing/internal/fetcher"
	"github.com/JakeFAU/nsn-sourcing/internal/headless/detector"
	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
)

const datesPage = `<html><body><table><tr><td>
<a href="RfqRecs.aspx?category=issue&TypeSrch=dt&Value=01-16-2026">01-16-2026</a>
<a href="RfqRecs.aspx?category=issue&TypeSrch=dt&Value=01-15-2026">01-15-2026</a>
<a href="RfqRecs.aspx?category=issue&TypeSrch=dt&Value=01-15-2026">01-15-2026</a>
<a href="RfqRecs.aspx?category=close">Closing soon</a>
<a href="/other">02-01-2026</a>
</td></tr></table></body></html>`

// listingPage renders a results grid in the DIBBS layout: a pager row, a
// header row, then nine-cell data rows.
func listingPage(pager string, rows ...string) string {
	return `<html><body><table class="layout"><tr><td>
<table id="ctl00_cph1_grdRfqSearch">
<tr><td colspan="9"><table><tr><td>` + pager + `</td></tr></table></td></tr>
<tr><th>#</th><th>NSN/Part Number</th><th>Nomenclature</th><th>Technical Documents</th><th>Solicitation</th><th>RFQ/Quote Status</th><th>Purchase Request</th><th>Issued</th><th>Return By</th></tr>
` + strings.Join(rows, "\n") + `
</table></td></tr></table></body></html>`
}

func listingRow(part, status, qty string) string {
	return `<tr><td>1</td><td>` + part + `<br>Part Info</td><td>BOLT,MACHINE</td><td>None</td>` +
		`<td>SPE7L1-26-T-0001<br>Package</td><td>` + status + `</td><td>7012345678<br>QTY: ` + qty + `</td>` +
		`<td>01/15/2026</td><td>01/29/2026</td></tr>`
}

func TestIssueDate(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]string{
		"01-15-2026":   "01-15-2026",
		" 2026-01-15 ": "01-15-2026",
		"01/15/2026":   "01-15-2026",
	} {
		got, err := dibbs.IssueDate(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got)
	}
	for _, raw := range []string{"", "tomorrow", "13-45-2026", "2026-15-01"} {
		_, err := dibbs.IssueDate(raw)
		require.ErrorIs(t, err, dibbs.ErrInvalidDate, raw)
	}
}

func TestParseIssueDates(t *testing.T) {
	t.Parallel()

	dates, err := dibbs.ParseIssueDates([]byte(datesPage))
	require.NoError(t, err)
	require.Equal(t, []string{"01-16-2026", "01-15-2026"}, dates)

	_, err = dibbs.ParseIssueDates([]byte(consentPage))
	require.ErrorIs(t, err, dibbs.ErrConsentRequired)
}

func TestParseListingsKeepsOpenLines(t *testing.T) {
	t.Parallel()

	body := listingPage(`<span>1</span> <a href="javascript:__doPostBack('grd','Page$2')">2</a> <a href="javascript:__doPostBack('grd','Page$3')">3</a>`,
		listingRow("5306-00-373-3291", "Open", "1,250"),
		listingRow("5310-01-234-5678", "Cancelled", "5"),
		listingRow("MS90725-60", "Open", "2"),
	)
	listings, total, err := dibbs.ParseListings([]byte(body))
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, listings, 2)

	first := listings[0]
	require.Equal(t, nsn.MustParse("5306003733291"), first.NSN)
	require.Equal(t, "5306-00-373-3291", first.PartNumber)
	require.Equal(t, "BOLT,MACHINE", first.Nomenclature)
	require.Equal(t, "SPE7L1-26-T-0001", first.Solicitation)
	require.Equal(t, 1250, first.Quantity)
	require.Equal(t, "2026-01-15", first.IssueDate)
	require.Equal(t, "2026-01-29", first.ReturnByDate)

	require.Empty(t, listings[1].NSN)
	require.Equal(t, "MS90725-60", listings[1].PartNumber)
}

func TestParseListingsPageCountText(t *testing.T) {
	t.Parallel()

	_, total, err := dibbs.ParseListings([]byte(listingPage("Page 1 of 7")))
	require.NoError(t, err)
	require.Equal(t, 7, total)

	listings, total, err := dibbs.ParseListings([]byte(`<html><body><p>No records found</p></body></html>`))
	require.NoError(t, err)
	require.Empty(t, listings)
	require.Equal(t, 1, total)
}

func TestNSNsByDateFollowsPagerInBrowser(t *testing.T) {
	t.Parallel()

	page1 := listingPage("Page 1 of 2",
		listingRow("5306-00-373-3291", "Open", "10"),
		listingRow("5310-01-234-5678", "Open", "4"),
	)
	page2 := listingPage("Page 2 of 2",
		listingRow("5306003733291", "Open", "3"),
		listingRow("4720-00-555-0101", "Open", "1"),
	)
	plain := &fakeFetcher{pages: []fetcher.Page{{StatusCode: http.StatusOK, Body: []byte(consentPage)}}}
	browser := &fakeFetcher{pages: []fetcher.Page{{
		StatusCode: http.StatusOK,
		Body:       []byte(page1),
		More:       [][]byte{[]byte(page2)},
		Headless:   true,
	}}}
	c, err := dibbs.New(dibbs.Config{BaseURL: "https://dibbs.test/rfq/rfqnsn.aspx"}, dibbs.Options{
		HTTP:     plain,
		Browser:  browser,
		Promoter: detector.NewHeuristic(16, detector.DoDConsentMarkers...),
		Now:      fixedNow,
	})
	require.NoError(t, err)

	got, err := c.NSNsByDate(context.Background(), "2026-01-15", 5)
	require.NoError(t, err)
	require.Equal(t, "01-15-2026", got.Date)
	require.Equal(t, 2, got.TotalPages)
	require.Equal(t, 2, got.PagesScraped)
	require.Len(t, got.Listings, 4)
	require.Equal(t, fixedNow(), got.ScrapedAt)
	require.Equal(t, []string{"5306-00-373-3291", "5310-01-234-5678", "4720-00-555-0101"}, got.NSNs())

	require.Len(t, plain.reqs, 1)
	require.Equal(t, "https://dibbs.test/RFQ/RfqRecs.aspx?category=issue&TypeSrch=dt&Value=01-15-2026", plain.reqs[0].URL)
	require.Len(t, browser.reqs, 1)
	req := browser.reqs[0]
	require.Equal(t, dibbs.ConsentSelector, req.ConsentSelector)
	require.Equal(t, 5, req.MaxPages)
	require.NotNil(t, req.NextPage)
	require.Contains(t, req.NextPage(1), `text())="2"`)
}

func TestNSNsByDateRejectsBadDate(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{}
	c, err := dibbs.New(dibbs.Config{}, dibbs.Options{HTTP: plain})
	require.NoError(t, err)

	_, err = c.NSNsByDate(context.Background(), "someday", 0)
	require.ErrorIs(t, err, dibbs.ErrInvalidDate)
	require.Empty(t, plain.reqs)
}

func TestAvailableDatesWithoutBanner(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{pages: []fetcher.Page{{StatusCode: http.StatusOK, Body: []byte(datesPage)}}}
	c, err := dibbs.New(dibbs.Config{}, dibbs.Options{HTTP: plain})
	require.NoError(t, err)

	dates, err := c.AvailableDates(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"01-16-2026", "01-15-2026"}, dates)
	require.Equal(t, "https://www.dibbs.bsm.dla.mil/Rfq/RfqDates.aspx?category=issue", plain.reqs[0].URL)
}
