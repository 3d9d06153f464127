// Package detector decides when an HTTP-fetched page must be loaded again in
// a headless browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/nsn-sourcing/internal/fetcher"
)

// DoDConsentMarkers identify the DoD Notice and Consent interstitial that DLA
// sites serve before any content.
var DoDConsentMarkers = []string{
	"Notice and Consent",
	`value="OK"`,
}

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
	// ConsentMarkers promote a page when any of them appears in the body.
	ConsentMarkers [][]byte
}

// NewHeuristic creates a new detector. A zero threshold defaults to 2048.
func NewHeuristic(threshold int, consentMarkers ...string) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	h := &Heuristic{BodyLengthThreshold: threshold}
	for _, m := range consentMarkers {
		if m = strings.TrimSpace(m); m != "" {
			h.ConsentMarkers = append(h.ConsentMarkers, []byte(m))
		}
	}
	return h
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(page fetcher.Page) bool {
	if page.StatusCode != http.StatusOK || page.Headless {
		return false
	}
	body := page.Body
	if len(body) == 0 {
		return true
	}
	for _, marker := range h.ConsentMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
