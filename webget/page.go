// Package webget is an MCP tool provider that fetches web pages and extracts
// their links and text.
package webget

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

// MaxPageBytes caps how much of a response body is kept.
const MaxPageBytes = 1 << 20

const userAgent = "Mozilla/5.0 (compatible; toolchat-webget/0.1)"

var reWords = regexp.MustCompile(`\w+`)

// Page is a fetched document.
type Page struct {
	URL         string
	Content     string
	ContentType string
	FetchedAt   time.Time
}

// ResourceID encodes a page URL for use in webpage:// resource URIs.
func ResourceID(pageURL string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(pageURL))
}

// URLFromResourceID reverses ResourceID.
func URLFromResourceID(id string) (string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// Info summarises a page.
func (p *Page) Info() string {
	host := ""
	if u, err := url.Parse(p.URL); err == nil {
		host = u.Host
	}
	return fmt.Sprintf("Page info:\nURL: %s\nHost: %s\nContent type: %s\nSize: %d bytes\nWords: %d\nLines: %d\n",
		p.URL, host, p.ContentType, len(p.Content),
		len(reWords.FindAllString(p.Content, -1)), strings.Count(p.Content, "\n")+1)
}

// Cache holds fetched pages in fetch order. Refetching a URL replaces its
// content but keeps its position.
type Cache struct {
	mu    sync.RWMutex
	order []string
	pages map[string]*Page
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{pages: make(map[string]*Page)}
}

// Put stores p.
func (c *Cache) Put(p *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pages[p.URL]; !ok {
		c.order = append(c.order, p.URL)
	}
	c.pages[p.URL] = p
}

// Get returns the page fetched from pageURL.
func (c *Cache) Get(pageURL string) (*Page, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pages[pageURL]
	return p, ok
}

// URLs lists cached pages in fetch order.
func (c *Cache) URLs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Fetcher downloads pages.
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a Fetcher using client, or http.DefaultClient when nil.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// ErrBadScheme rejects URLs that are not http or https.
var ErrBadScheme = errors.New("URL must start with http:// or https://")

// Fetch downloads pageURL within timeout.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, timeout time.Duration) (*Page, error) {
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		return nil, ErrBadScheme
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if timedOut(ctx, err) {
			return nil, fmt.Errorf("fetching %s timed out after %s", pageURL, timeout)
		}
		return nil, fmt.Errorf("connecting to %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error: %s returned %s", pageURL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPageBytes))
	if err != nil {
		if timedOut(ctx, err) {
			return nil, fmt.Errorf("fetching %s timed out after %s", pageURL, timeout)
		}
		return nil, fmt.Errorf("reading %s: %w", pageURL, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/html"
	}
	return &Page{URL: pageURL, Content: string(body), ContentType: contentType, FetchedAt: time.Now()}, nil
}

// timedOut reports whether err came from the fetch deadline or a transport
// timeout, either while connecting or while reading the body.
func timedOut(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// urlResolver resolves hrefs against a page URL.
type urlResolver struct {
	base *url.URL
}

func newResolver(pageURL string) *urlResolver {
	u, err := url.Parse(pageURL)
	if err != nil {
		return &urlResolver{}
	}
	return &urlResolver{base: u}
}

func (r *urlResolver) resolve(href string) string {
	if r == nil || r.base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return r.base.ResolveReference(ref).String()
}
