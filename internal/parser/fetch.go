package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// HTMLFetcher retrieves and parses a listing page over plain HTTP.
// Quick parses go through this; full parses go through a PageRenderer.
type HTMLFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*goquery.Document, error)
}

const maxBodyBytes = 2 << 20

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// blockMarkers are strings bot walls leave in pages that still come
// back 200: Kasada, Incapsula, PerimeterX, and generic denial text.
var blockMarkers = []string{
	"KPSDK",
	"Incapsula_Resource",
	"px-captcha",
	"Access to this page has been denied",
	"detected unusual activity",
	"Pardon Our Interruption",
}

// HTTPFetcher is the production HTMLFetcher.
type HTTPFetcher struct {
	client *http.Client
	seq    atomic.Uint64
}

// NewHTTPFetcher builds a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch gets the page and returns it parsed. 403/429 and bot-wall
// markers surface as *BlockedError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgents[f.seq.Add(1)%uint64(len(userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &BlockedError{URL: rawURL, Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return documentFromBody(rawURL, body, resp.StatusCode)
}

// documentFromHTML turns browser-rendered HTML into a document, with
// the same block screening as the HTTP path.
func documentFromHTML(rawURL, html string, status int) (*goquery.Document, error) {
	if status == http.StatusForbidden || status == http.StatusTooManyRequests {
		return nil, &BlockedError{URL: rawURL, Status: status}
	}
	return documentFromBody(rawURL, []byte(html), status)
}

func documentFromBody(rawURL string, body []byte, status int) (*goquery.Document, error) {
	if marker := findBlockMarker(body); marker != "" {
		return nil, &BlockedError{URL: rawURL, Status: status, Marker: marker}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", rawURL, err)
	}
	return doc, nil
}

func findBlockMarker(body []byte) string {
	// Markers sit early in wall pages; cap the scan.
	scan := body
	if len(scan) > 64<<10 {
		scan = scan[:64<<10]
	}
	text := string(scan)
	for _, m := range blockMarkers {
		if strings.Contains(text, m) {
			return m
		}
	}
	return ""
}
