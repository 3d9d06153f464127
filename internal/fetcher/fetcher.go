// Package fetcher defines the page-fetch contract shared by the HTTP (colly)
// and headless (chromedp) implementations that HTML source connectors use.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Request describes one page load.
type Request struct {
	URL     string
	Headers http.Header
	// ConsentSelector, when set, is clicked by headless fetchers if it is
	// present after navigation; the original URL is then loaded again.
	ConsentSelector string
	// WaitSelector, when set, must be present before the DOM is captured.
	WaitSelector string
	// NextPage, when set, returns an XPath for the link leading from page n
	// (1-based) to page n+1. Headless fetchers click it after capturing each
	// page and stop when it is missing or MaxPages pages have been captured.
	// Plain HTTP fetchers ignore it.
	NextPage func(n int) string
	// MaxPages bounds pagination; 0 means DefaultMaxPages.
	MaxPages int
}

// DefaultMaxPages bounds pagination when Request.MaxPages is unset.
const DefaultMaxPages = 25

// Page is a fetched document.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Headless   bool
	// ConsentAccepted reports that a consent banner was clicked through.
	ConsentAccepted bool
	// More holds the documents of pages 2..n when the request paginated.
	More [][]byte
}

// Pages returns Body followed by More.
func (p Page) Pages() [][]byte {
	out := make([][]byte, 0, 1+len(p.More))
	out = append(out, p.Body)
	return append(out, p.More...)
}

// Fetcher loads a page.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Page, error)
}

// StatusError reports an HTTP error response. The page body is still returned
// alongside it.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Promoter decides whether a page fetched over plain HTTP must be loaded again
// in a browser.
type Promoter interface {
	ShouldPromote(page Page) bool
}
