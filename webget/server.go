package webget

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/toolchat/pkg/logging"
)

// DefaultTimeout applies when fetch_webpage is called without a timeout.
const DefaultTimeout = 5 * time.Second

const resourceScheme = "webpage://"

const scrapingGuide = `# Web scraping guide

1. Respect robots.txt and only fetch what it allows.
2. Keep the request rate low and add delays between requests.
3. Identify your client with an honest User-Agent.
4. Prefer an official API when the site offers one.
5. Handle errors and retry with backoff instead of hammering the server.
6. Follow the site's terms of service.
7. Respect copyright and privacy when using the data.
8. Parse HTML with a real parser rather than regular expressions.
9. Only download what you need.
10. Cache fetched pages instead of requesting them again.
`

// Server exposes the page cache as MCP tools, resources and a prompt.
type Server struct {
	cache   *Cache
	fetcher *Fetcher
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithHTTPClient sets the client used for fetching.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) {
		s.fetcher = NewFetcher(c)
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server with an empty cache.
func New(opts ...Option) *Server {
	s := &Server{
		cache:   NewCache(),
		fetcher: NewFetcher(nil),
		logger:  logging.WithComponent("webget"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache returns the page cache.
func (s *Server) Cache() *Cache { return s.cache }

type fetchArgs struct {
	URL     string `json:"url" jsonschema:"Full page URL starting with http:// or https://"`
	Timeout int    `json:"timeout,omitempty" jsonschema:"Request timeout in seconds, defaults to 5"`
}

type pageArgs struct {
	URL string `json:"url" jsonschema:"URL of a page fetched earlier with fetch_webpage"`
}

type textArgs struct {
	URL    string `json:"url" jsonschema:"URL of a page fetched earlier with fetch_webpage"`
	Format string `json:"format,omitempty" jsonschema:"text (default) or markdown"`
}

// MCPServer builds the MCP server for s.
func (s *Server) MCPServer(name, version string) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: name, Version: version, Title: "Web page fetcher"}, nil)

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "fetch_webpage",
		Description: "Fetch a web page and cache it for the other tools",
	}, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in fetchArgs) (*sdkmcp.CallToolResult, any, error) {
		out, err := s.FetchWebpage(ctx, in.URL, time.Duration(in.Timeout)*time.Second)
		return textResult(out), nil, err
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_fetched_pages",
		Description: "List every page fetched so far",
	}, func(context.Context, *sdkmcp.CallToolRequest, struct{}) (*sdkmcp.CallToolResult, any, error) {
		return textResult(s.ListFetchedPages()), nil, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "extract_links",
		Description: "Extract all links from a fetched page",
	}, func(_ context.Context, _ *sdkmcp.CallToolRequest, in pageArgs) (*sdkmcp.CallToolResult, any, error) {
		out, err := s.ExtractLinks(in.URL)
		return textResult(out), nil, err
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "extract_text",
		Description: "Extract the readable text of a fetched page without HTML tags",
	}, func(_ context.Context, _ *sdkmcp.CallToolRequest, in textArgs) (*sdkmcp.CallToolResult, any, error) {
		out, err := s.ExtractText(in.URL, in.Format)
		return textResult(out), nil, err
	})

	server.AddResourceTemplate(&sdkmcp.ResourceTemplate{
		Name:        "webpage",
		Description: "Raw content of a fetched page",
		URITemplate: resourceScheme + "{id}",
		MIMEType:    "text/html",
	}, s.readResource)

	server.AddResourceTemplate(&sdkmcp.ResourceTemplate{
		Name:        "webpage-info",
		Description: "Summary of a fetched page",
		URITemplate: resourceScheme + "{id}/info",
		MIMEType:    "text/plain",
	}, s.readResource)

	server.AddPrompt(&sdkmcp.Prompt{
		Name:        "web_scraping_guide",
		Description: "Good practice for fetching web pages",
	}, func(context.Context, *sdkmcp.GetPromptRequest) (*sdkmcp.GetPromptResult, error) {
		return &sdkmcp.GetPromptResult{
			Description: "Web scraping guide",
			Messages: []*sdkmcp.PromptMessage{
				{Role: "user", Content: &sdkmcp.TextContent{Text: scrapingGuide}},
			},
		}, nil
	})

	return server
}

// FetchWebpage downloads pageURL into the cache and describes where its
// content can be read.
func (s *Server) FetchWebpage(ctx context.Context, pageURL string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	page, err := s.fetcher.Fetch(ctx, pageURL, timeout)
	if err != nil {
		s.logger.Warn("fetch failed", "url", pageURL, "error", err)
		return "", err
	}
	s.cache.Put(page)
	s.logger.Info("page fetched", "url", pageURL, "bytes", len(page.Content))

	id := ResourceID(pageURL)
	return fmt.Sprintf("Fetched %s\nThe page is now available as:\n- content: %s%s\n- info: %s%s/info\n",
		pageURL, resourceScheme, id, resourceScheme, id), nil
}

// ListFetchedPages lists cached pages with their resource ids.
func (s *Server) ListFetchedPages() string {
	urls := s.cache.URLs()
	if len(urls) == 0 {
		return "No pages fetched yet."
	}
	var b strings.Builder
	b.WriteString("Fetched pages:\n")
	for _, u := range urls {
		fmt.Fprintf(&b, "- %s\n  resource id: %s\n", u, ResourceID(u))
	}
	return b.String()
}

// ExtractLinks lists the links of a cached page.
func (s *Server) ExtractLinks(pageURL string) (string, error) {
	page, err := s.cached(pageURL)
	if err != nil {
		return "", err
	}
	links, err := Links(page.Content, pageURL)
	if err != nil {
		return "", fmt.Errorf("extracting links: %w", err)
	}
	if len(links) == 0 {
		return "No links found in " + pageURL, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d links in %s:\n", len(links), pageURL)
	for _, l := range links {
		b.WriteString("- " + l + "\n")
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

// ExtractText returns the text of a cached page as plain text or markdown.
func (s *Server) ExtractText(pageURL, format string) (string, error) {
	page, err := s.cached(pageURL)
	if err != nil {
		return "", err
	}
	var text string
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		text, err = PlainText(page.Content)
	case "markdown", "md":
		text, err = Markdown(page.Content)
	default:
		return "", fmt.Errorf("unsupported format %q (use text or markdown)", format)
	}
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	return text, nil
}

func (s *Server) cached(pageURL string) (*Page, error) {
	page, ok := s.cache.Get(pageURL)
	if !ok {
		return nil, fmt.Errorf("page %s has not been fetched, call fetch_webpage first", pageURL)
	}
	return page, nil
}

func (s *Server) readResource(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
	uri := req.Params.URI
	id, info := strings.CutSuffix(strings.TrimPrefix(uri, resourceScheme), "/info")
	pageURL, ok := URLFromResourceID(id)
	if !ok {
		return nil, sdkmcp.ResourceNotFoundError(uri)
	}
	page, ok := s.cache.Get(pageURL)
	if !ok {
		return nil, sdkmcp.ResourceNotFoundError(uri)
	}

	contents := &sdkmcp.ResourceContents{URI: uri, MIMEType: page.ContentType, Text: page.Content}
	if info {
		contents.MIMEType = "text/plain"
		contents.Text = page.Info()
	}
	return &sdkmcp.ReadResourceResult{Contents: []*sdkmcp.ResourceContents{contents}}, nil
}

func textResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}}}
}
