// Package firecrawl discovers supplier contact details through the Firecrawl
// search and scrape APIs.
package firecrawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// DefaultBaseURL is the v2 API root.
const DefaultBaseURL = "https://api.firecrawl.dev/v2"

// ExcludedDomains are directory and social sites that never carry a
// supplier's own contact page.
var ExcludedDomains = []string{
	"linkedin.com",
	"facebook.com",
	"twitter.com",
	"youtube.com",
	"yelp.com",
	"yellowpages.com",
	"manta.com",
	"dnb.com",
	"bloomberg.com",
	"zoominfo.com",
	"crunchbase.com",
}

const extractPrompt = "Extract all contact information including email addresses, phone numbers, " +
	"physical address, and contact persons with their names, titles, emails and phone numbers."

var extractSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"emails": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "All email addresses found on the page",
		},
		"phones": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "All phone numbers found on the page",
		},
		"address": map[string]any{
			"type":        "string",
			"description": "Physical/mailing address of the company",
		},
		"contactPersons": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":  map[string]any{"type": "string"},
					"title": map[string]any{"type": "string"},
					"email": map[string]any{"type": "string"},
					"phone": map[string]any{"type": "string"},
				},
			},
			"description": "Individual contact persons found",
		},
	},
}

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
	// Timeout bounds each HTTP call; the scrape job itself is given the same
	// budget on the Firecrawl side.
	Timeout     time.Duration
	SearchLimit int
	Logger      *zap.Logger
}

// Client implements sourcing.ContactEnricher.
type Client struct {
	client  *resty.Client
	baseURL string
	timeout time.Duration
	limit   int
	logger  *zap.Logger
}

// New builds a Firecrawl client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("firecrawl: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client := resty.New()
	client.SetAuthToken(cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(cfg.Timeout + 10*time.Second)
	client.SetRetryCount(0)
	return &Client{
		client:  client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		limit:   cfg.SearchLimit,
		logger:  cfg.Logger,
	}, nil
}

type searchRequest struct {
	Query   string   `json:"query"`
	Limit   int      `json:"limit"`
	Sources []string `json:"sources"`
}

type searchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type searchResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Web []searchResult `json:"web"`
	} `json:"data"`
}

type scrapeFormat struct {
	Type   string         `json:"type"`
	Prompt string         `json:"prompt,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
}

type scrapeRequest struct {
	URL     string         `json:"url"`
	Formats []scrapeFormat `json:"formats"`
	Timeout int64          `json:"timeout"`
}

type extracted struct {
	Emails         []string `json:"emails"`
	Phones         []string `json:"phones"`
	Address        string   `json:"address"`
	ContactPersons []struct {
		Name  string `json:"name"`
		Title string `json:"title"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"contactPersons"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		JSON extracted `json:"json"`
	} `json:"data"`
}

// Discover finds company's website and extracts contact details from it. An
// empty record with a nil error means nothing was found.
func (c *Client) Discover(ctx context.Context, company, cage string) (sourcing.ContactRecord, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return sourcing.ContactRecord{}, fmt.Errorf("firecrawl: company name: %w", sourcing.ErrInvalidInput)
	}
	site, err := c.FindWebsite(ctx, company, cage)
	if err != nil {
		return sourcing.ContactRecord{}, err
	}
	if site == "" {
		c.logger.Debug("no website found", zap.String("company", company))
		return sourcing.ContactRecord{}, nil
	}
	return c.ExtractContacts(ctx, site)
}

// FindWebsite searches for company's own site, trying "<company> contact"
// first and then "<company> <cage>".
func (c *Client) FindWebsite(ctx context.Context, company, cage string) (string, error) {
	queries := []string{company + " contact", company}
	if cage != "" {
		queries[1] = company + " " + cage
	}
	var lastErr error
	for _, q := range queries {
		results, err := c.search(ctx, q)
		if err != nil {
			if stopSearching(err) {
				return "", err
			}
			c.logger.Warn("firecrawl search failed", zap.String("query", q), zap.Error(err))
			lastErr = err
			continue
		}
		if site := pickWebsite(company, results); site != "" {
			return site, nil
		}
	}
	return "", lastErr
}

func (c *Client) search(ctx context.Context, query string) ([]searchResult, error) {
	var body searchResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(searchRequest{Query: query, Limit: c.limit, Sources: []string{"web"}}).
		SetResult(&body).
		SetError(&body).
		Post(c.baseURL + "/search")
	if err := check(resp, err, body.Success, body.Error); err != nil {
		return nil, err
	}
	return body.Data.Web, nil
}

// ExtractContacts scrapes site and its /contact page and unions what both
// yield. It stops early once the record is complete.
func (c *Client) ExtractContacts(ctx context.Context, site string) (sourcing.ContactRecord, error) {
	record := sourcing.ContactRecord{Websites: []string{site}}
	var (
		lastErr error
		scraped bool
	)
	for _, target := range contactPages(site) {
		found, err := c.scrape(ctx, target)
		if err != nil {
			if stopSearching(err) {
				return record.Normalized(), err
			}
			c.logger.Warn("firecrawl scrape failed", zap.String("url", target), zap.Error(err))
			lastErr = err
			continue
		}
		scraped = true
		record = record.Union(found)
		if record.Complete() {
			break
		}
	}
	if !scraped && lastErr != nil {
		return record.Normalized(), lastErr
	}
	return record.Normalized(), nil
}

func (c *Client) scrape(ctx context.Context, target string) (sourcing.ContactRecord, error) {
	var body scrapeResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(scrapeRequest{
			URL: target,
			Formats: []scrapeFormat{
				{Type: "json", Prompt: extractPrompt, Schema: extractSchema},
			},
			Timeout: c.timeout.Milliseconds(),
		}).
		SetResult(&body).
		SetError(&body).
		Post(c.baseURL + "/scrape")
	if err := check(resp, err, body.Success, body.Error); err != nil {
		return sourcing.ContactRecord{}, err
	}
	data := body.Data.JSON
	out := sourcing.ContactRecord{Emails: data.Emails, Phones: data.Phones}
	if a := strings.TrimSpace(data.Address); a != "" {
		out.Addresses = []string{a}
	}
	for _, p := range data.ContactPersons {
		out.Persons = append(out.Persons, sourcing.ContactPerson{
			Name: p.Name, Title: p.Title, Email: p.Email, Phone: p.Phone,
		})
	}
	return out, nil
}

// pickWebsite returns the first result outside ExcludedDomains, preferring
// one whose title or URL mentions company.
func pickWebsite(company string, results []searchResult) string {
	name := strings.ToLower(company)
	var fallback string
	for _, r := range results {
		if r.URL == "" || Excluded(r.URL) {
			continue
		}
		if strings.Contains(strings.ToLower(r.Title), name) || strings.Contains(strings.ToLower(r.URL), name) {
			return r.URL
		}
		if fallback == "" {
			fallback = r.URL
		}
	}
	return fallback
}

// Excluded reports whether rawURL belongs to an excluded domain. Unparseable
// URLs are excluded.
func Excluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range ExcludedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func contactPages(site string) []string {
	pages := []string{site}
	lower := strings.ToLower(site)
	for _, marker := range []string{"/contact", "/about", "/reach"} {
		if strings.Contains(lower, marker) {
			return pages
		}
	}
	u, err := url.Parse(site)
	if err != nil || u.Host == "" {
		return pages
	}
	return append(pages, u.Scheme+"://"+u.Host+"/contact")
}

// stopSearching reports errors that make further calls pointless.
func stopSearching(err error) bool {
	var ee *sourcing.EnricherError
	if !errors.As(err, &ee) {
		return false
	}
	return ee.Kind == sourcing.EnricherAuthInvalid || ee.Kind == sourcing.EnricherRateLimited
}

func check(resp *resty.Response, err error, success bool, msg string) error {
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		return sourcing.NewEnricherError(sourcing.EnricherKindFromStatus(status), status, err)
	}
	if status := resp.StatusCode(); status >= 300 {
		cause := fmt.Errorf("firecrawl returned HTTP %d", status)
		if msg != "" {
			cause = fmt.Errorf("firecrawl returned HTTP %d: %s", status, msg)
		}
		return sourcing.NewEnricherError(sourcing.EnricherKindFromStatus(status), status, cause)
	}
	if !success {
		if msg == "" {
			msg = "request unsuccessful"
		}
		return sourcing.NewEnricherError(sourcing.EnricherUnknown, resp.StatusCode(), fmt.Errorf("firecrawl: %s", msg))
	}
	return nil
}
