package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/nsn-sourcing/internal/fetcher"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", Timeout: time.Second})
	collector := f.buildCollector(fetcher.Request{URL: "https://example.com"}, time.Unix(0, 0), &fetcher.Page{}, new(error))
	if collector.UserAgent != "coverage-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if !collector.IgnoreRobotsTxt {
		t.Fatal("expected robots.txt to be ignored")
	}
	if !collector.AllowURLRevisit {
		t.Fatal("expected revisits to be allowed for retries")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := fetcher.Request{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result fetcher.Page
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	if result.StatusCode != http.StatusOK || string(result.Body) != "body" || result.Headless {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Headers.Get("X-Resp") != "ok" {
		t.Fatalf("expected headers copied, got %+v", result.Headers)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}

	hooks.onError(&colly.Response{
		StatusCode: http.StatusNotFound,
		Body:       []byte("missing"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/x")},
	}, errors.New("Not Found"))
	var statusErr *fetcher.StatusError
	if !errors.As(fetchErr, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status error, got %v", fetchErr)
	}
	if string(result.Body) != "missing" {
		t.Fatalf("expected error body captured, got %q", result.Body)
	}
}

func TestFetchAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		w.Header().Set("X-Agent", r.Header.Get("X-Agent"))
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second})
	ctx := context.Background()

	page, err := f.Fetch(ctx, fetcher.Request{URL: srv.URL + "/ok", Headers: http.Header{"X-Agent": {"crawler"}}})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(page.Body) != "<html>ok</html>" || page.Headers.Get("X-Agent") != "crawler" {
		t.Fatalf("unexpected page: %+v", page)
	}

	// Revisiting the same URL must not be rejected by the collector.
	if _, err := f.Fetch(ctx, fetcher.Request{URL: srv.URL + "/ok"}); err != nil {
		t.Fatalf("refetch: %v", err)
	}

	page, err = f.Fetch(ctx, fetcher.Request{URL: srv.URL + "/gone"})
	var statusErr *fetcher.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if page.StatusCode != http.StatusNotFound {
		t.Fatalf("expected page status 404, got %d", page.StatusCode)
	}
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	_, err := New(Config{Timeout: time.Second}).Fetch(ctx, fetcher.Request{URL: srv.URL})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
