package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/wolfman30/repassist-platform/pkg/logging"
)

const defaultWebSearchURL = "https://www.google.com/search"

// browser-ish headers keep the public endpoints from rejecting us outright
const webSearchUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// FidelityAdapter searches the public fidelity.com content. The primary
// strategy is a site-scoped web search; when that yields nothing it falls
// back to the site's native search endpoint. Both strategies are internal to
// the adapter; the fan-out only sees merged results.
type FidelityAdapter struct {
	client    *http.Client
	siteURL   string
	searchURL string
	logger    *logging.Logger
}

type FidelityOption func(*FidelityAdapter)

// WithSearchURL overrides the site-scoped web search endpoint (tests point it
// at an httptest server).
func WithSearchURL(u string) FidelityOption {
	return func(a *FidelityAdapter) { a.searchURL = u }
}

func NewFidelityAdapter(client *http.Client, siteURL string, logger *logging.Logger, opts ...FidelityOption) *FidelityAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	if siteURL == "" {
		siteURL = "https://www.fidelity.com"
	}
	if logger == nil {
		logger = logging.Default()
	}
	a := &FidelityAdapter{
		client:    client,
		siteURL:   strings.TrimRight(siteURL, "/"),
		searchURL: defaultWebSearchURL,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *FidelityAdapter) Name() string { return "fidelity" }

func (a *FidelityAdapter) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		k = 5
	}

	results, err := a.siteScopedSearch(ctx, query, k)
	if err != nil {
		a.logger.Warn("site-scoped search failed, trying native search", "error", err)
	}
	if len(results) > 0 {
		return results, nil
	}

	native, nativeErr := a.nativeSearch(ctx, query, k)
	if nativeErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, nativeErr
	}
	return native, nil
}

// siteScopedSearch queries the web search engine restricted to the site's
// domain and scrapes the result anchors.
func (a *FidelityAdapter) siteScopedSearch(ctx context.Context, query string, k int) ([]Result, error) {
	host := a.siteURL
	if parsed, err := url.Parse(a.siteURL); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	q := url.Values{}
	q.Set("q", fmt.Sprintf("site:%s %s", host, query))
	q.Set("num", fmt.Sprintf("%d", k))

	body, err := a.get(ctx, a.searchURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	links := extractResultLinks(body, k)
	results := make([]Result, 0, len(links))
	for i, link := range links {
		results = append(results, Result{
			Source:    a.Name(),
			Title:     link.title,
			URL:       link.href,
			Snippet:   link.snippet,
			Relevance: 0.9 - float64(i)*0.05,
		})
	}
	return results, nil
}

// nativeSearch hits the site's own search endpoint, which answers JSON.
func (a *FidelityAdapter) nativeSearch(ctx context.Context, query string, k int) ([]Result, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", fmt.Sprintf("%d", k))

	body, err := a.get(ctx, a.siteURL+"/search?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Link    string  `json:"link"`
			Snippet string  `json:"snippet"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: native search payload: %v", ErrBadResponse, err)
	}

	results := make([]Result, 0, len(decoded.Results))
	for i, item := range decoded.Results {
		if i >= k {
			break
		}
		href := item.URL
		if href == "" {
			href = item.Link
		}
		if href == "" {
			continue
		}
		if !strings.HasPrefix(href, "http") {
			href = a.siteURL + "/" + strings.TrimLeft(href, "/")
		}
		snippet := item.Content
		if snippet == "" {
			snippet = item.Snippet
		}
		score := item.Score
		if score == 0 {
			score = 0.8 - float64(i)*0.05
		}
		results = append(results, Result{
			Source:    a.Name(),
			Title:     item.Title,
			URL:       href,
			Snippet:   snippet,
			Relevance: score,
		})
	}
	return results, nil
}

func (a *FidelityAdapter) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build request: %w", err)
	}
	req.Header.Set("User-Agent", webSearchUserAgent)
	req.Header.Set("Accept", "text/html,application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 2<<20))
}

type resultLink struct {
	href    string
	title   string
	snippet string
}

// extractResultLinks walks the search result markup and collects anchors that
// wrap a heading, which is how result pages mark organic hits.
func extractResultLinks(page []byte, limit int) []resultLink {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return nil
	}

	var links []resultLink
	seen := map[string]bool{}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(links) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attrValue(n, "href")
			if strings.HasPrefix(href, "http") {
				if title := headingText(n); title != "" && !seen[href] {
					seen[href] = true
					links = append(links, resultLink{
						href:    href,
						title:   title,
						snippet: siblingText(n),
					})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// headingText returns the text of the first h1-h4 descendant, if any.
func headingText(n *html.Node) string {
	var find func(*html.Node) string
	find = func(node *html.Node) string {
		if node.Type == html.ElementNode {
			switch node.Data {
			case "h1", "h2", "h3", "h4":
				return strings.TrimSpace(nodeText(node))
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if got := find(c); got != "" {
				return got
			}
		}
		return ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if got := find(c); got != "" {
			return got
		}
	}
	return ""
}

// siblingText grabs the text that follows the anchor inside its parent, the
// usual spot for a result snippet.
func siblingText(n *html.Node) string {
	if n.Parent == nil {
		return ""
	}
	var sb strings.Builder
	for c := n.NextSibling; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return strings.TrimSpace(sb.String())
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}
