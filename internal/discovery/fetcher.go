package discovery

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// maxPageBytes caps how much of a page is read
const maxPageBytes = 5 << 20

// ContentFetcher loads the readable text of a page
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPFetcher fetches pages with a plain HTTP client
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with the given timeout
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads the page and extracts its text
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	applyBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status code %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	return HTMLToText(string(body)), nil
}

// applyBrowserHeaders sets browser-like headers to avoid bot detection
func applyBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-SG,en;q=0.9")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// BrowserFetcher renders pages in headless Chrome. Listing portals that
// build the page with JavaScript return little text to a plain client.
type BrowserFetcher struct {
	execPath string
	timeout  time.Duration
}

// NewBrowserFetcher creates a headless Chrome fetcher. An empty execPath uses
// chromedp's lookup.
func NewBrowserFetcher(execPath string, timeout time.Duration) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrowserFetcher{execPath: execPath, timeout: timeout}
}

// Fetch renders the page and extracts its text
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	log.Printf("[HeadlessBrowser] Fetching %s with Chrome", url)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true), // Required for Docker
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)
	if f.execPath != "" {
		opts = append(opts, chromedp.ExecPath(f.execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, f.timeout)
	defer cancel()

	var htmlContent string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(`body`, chromedp.ByQuery),
		// Give client-side rendering a moment
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML(`html`, &htmlContent, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp error: %w", err)
	}

	log.Printf("[HeadlessBrowser] Fetched %s (%d bytes)", url, len(htmlContent))
	return HTMLToText(htmlContent), nil
}

// FetchingSearcher fills in content for items the provider returned without
// any, using a ContentFetcher. Items that still have no content are passed
// through unchanged.
type FetchingSearcher struct {
	next    Searcher
	fetcher ContentFetcher
}

// NewFetchingSearcher wraps a searcher
func NewFetchingSearcher(next Searcher, fetcher ContentFetcher) *FetchingSearcher {
	return &FetchingSearcher{next: next, fetcher: fetcher}
}

// Search delegates to the wrapped searcher and fetches missing content
func (s *FetchingSearcher) Search(ctx context.Context, q Query) ([]Item, error) {
	items, err := s.next.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	for i := range items {
		item := &items[i]
		if strings.TrimSpace(item.Content) != "" || item.URL == "" || item.Failed() {
			continue
		}
		text, err := s.fetcher.Fetch(ctx, item.URL)
		if err != nil {
			log.Printf("[Discovery] Content fetch failed for %s: %v", item.URL, err)
			continue
		}
		item.Content = text
	}
	return items, nil
}
