// Package headless contains fetchers that render pages in a real browser, for
// sources that gate their content behind JavaScript or a consent banner.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/nsn-sourcing/internal/fetcher"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is the pause after each load so late scripts can finish.
	Settle time.Duration
}

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettle            = 500 * time.Millisecond
)

// Fetcher implements fetcher.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates with a headless browser and returns the fully rendered DOM.
// When the request names a consent selector that is present after the first
// load, it is clicked and the original URL is loaded again.
func (f *Fetcher) Fetch(ctx context.Context, request fetcher.Request) (fetcher.Page, error) {
	if err := f.acquire(ctx); err != nil {
		return fetcher.Page{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	// Tie the browser tab to the caller's cancellation.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout()*time.Duration(pageBudget(request)))
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	out, err := f.runHeadless(taskCtx, request)
	if err != nil {
		if ctx.Err() != nil {
			return fetcher.Page{}, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		}
		return fetcher.Page{}, err
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, out.finalURL)
	if headers == nil {
		headers = http.Header{}
	}

	page := fetcher.Page{
		URL:             responseURL,
		StatusCode:      status,
		Headers:         headers,
		Body:            []byte(out.html),
		Duration:        time.Since(start),
		Headless:        true,
		ConsentAccepted: out.consent,
	}
	for _, html := range out.more {
		page.More = append(page.More, []byte(html))
	}
	if status >= http.StatusBadRequest {
		return page, &fetcher.StatusError{URL: responseURL, StatusCode: status}
	}
	return page, nil
}

type headlessResult struct {
	html     string
	finalURL string
	consent  bool
	more     []string
}

// pageBudget is the number of pages request may capture.
func pageBudget(request fetcher.Request) int {
	if request.NextPage == nil {
		return 1
	}
	if request.MaxPages > 0 {
		return request.MaxPages
	}
	return fetcher.DefaultMaxPages
}

func (f *Fetcher) runHeadless(ctx context.Context, request fetcher.Request) (headlessResult, error) {
	var out headlessResult
	load := f.loadActions(request.URL)
	if err := chromedp.Run(ctx, append([]chromedp.Action{f.networkSetupAction(request.Headers)}, load...)...); err != nil {
		return out, fmt.Errorf("chromedp navigate: %w", err)
	}

	if request.ConsentSelector != "" {
		var nodes []*cdp.Node
		if err := chromedp.Run(ctx, chromedp.Nodes(request.ConsentSelector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
			return out, fmt.Errorf("chromedp consent lookup: %w", err)
		}
		if len(nodes) > 0 {
			// Accepting the banner redirects away from the requested page.
			actions := []chromedp.Action{
				chromedp.Click(request.ConsentSelector, chromedp.ByQuery, chromedp.NodeVisible),
				chromedp.Sleep(f.cfg.Settle),
			}
			actions = append(actions, load...)
			if err := chromedp.Run(ctx, actions...); err != nil {
				return out, fmt.Errorf("chromedp consent: %w", err)
			}
			out.consent = true
		}
	}

	capture := []chromedp.Action{}
	if request.WaitSelector != "" {
		capture = append(capture, chromedp.WaitReady(request.WaitSelector, chromedp.ByQuery))
	}
	capture = append(capture,
		chromedp.Location(&out.finalURL),
		chromedp.OuterHTML("html", &out.html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, capture...); err != nil {
		return out, fmt.Errorf("chromedp capture: %w", err)
	}
	if err := f.paginate(ctx, request, &out); err != nil {
		return out, err
	}
	return out, nil
}

// paginate follows request.NextPage, capturing each page it reaches.
func (f *Fetcher) paginate(ctx context.Context, request fetcher.Request, out *headlessResult) error {
	if request.NextPage == nil {
		return nil
	}
	limit := pageBudget(request)
	for n := 1; n < limit; n++ {
		next := request.NextPage(n)
		if next == "" {
			return nil
		}
		var nodes []*cdp.Node
		if err := chromedp.Run(ctx, chromedp.Nodes(next, &nodes, chromedp.BySearch, chromedp.AtLeast(0))); err != nil {
			return fmt.Errorf("chromedp next page lookup: %w", err)
		}
		if len(nodes) == 0 {
			return nil
		}
		// ASP.NET pagers post back and replace the whole document.
		var html string
		if err := chromedp.Run(ctx,
			chromedp.Click(next, chromedp.BySearch, chromedp.NodeVisible),
			chromedp.Sleep(f.cfg.Settle),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		); err != nil {
			return fmt.Errorf("chromedp page %d: %w", n+1, err)
		}
		out.more = append(out.more, html)
	}
	return nil
}

func (f *Fetcher) loadActions(url string) []chromedp.Action {
	return []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
	}
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, cloneHeader(m.headers), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
