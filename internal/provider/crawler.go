package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"deepresearch/internal/types"
)

// PageLoader is the slice of the fetcher the crawler needs.
type PageLoader interface {
	FetchHTML(ctx context.Context, rawURL string) (string, error)
}

// Crawler is the headless search variant: it renders the DuckDuckGo HTML
// endpoint through the stealth browser and scrapes result links. Keyless,
// and useful when every keyed provider is down or unconfigured.
type Crawler struct {
	loader  PageLoader
	baseURL string
}

func NewCrawler(loader PageLoader) *Crawler {
	return &Crawler{loader: loader, baseURL: "https://html.duckduckgo.com"}
}

func (c *Crawler) Name() string    { return "crawler" }
func (c *Crawler) RPS() float64    { return 0.5 }
func (c *Crawler) Available() bool { return c.loader != nil }

func (c *Crawler) Search(ctx context.Context, query string, limit int) ([]types.Entity, error) {
	page, err := c.loader.FetchHTML(ctx, c.baseURL+"/html/?q="+url.QueryEscape(query))
	if err != nil {
		return nil, fmt.Errorf("crawl search failed: %w", err)
	}

	links := parseResultLinks(page, clampLimit(limit, 20))
	now := time.Now().UTC()
	out := make([]types.Entity, 0, len(links))
	for _, l := range links {
		out = append(out, types.Entity{
			URL:         l.href,
			Title:       l.title,
			Snippet:     l.snippet,
			Provider:    c.Name(),
			RetrievedAt: now,
		})
	}
	return out, nil
}

type resultLink struct {
	href    string
	title   string
	snippet string
}

// parseResultLinks walks the result page for anchors with the
// result__a class, pairing each with the sibling result__snippet.
func parseResultLinks(page string, limit int) []resultLink {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil
	}

	var out []resultLink
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(out) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			href := attrValue(n, "href")
			if u := cleanRedirect(href); u != "" {
				out = append(out, resultLink{href: u, title: nodeText(n)})
			}
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") && len(out) > 0 {
			if out[len(out)-1].snippet == "" {
				out[len(out)-1].snippet = nodeText(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

// cleanRedirect unwraps the uddg= redirect DuckDuckGo wraps results in.
func cleanRedirect(href string) string {
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return href
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key == "class" {
			for _, c := range strings.Fields(attr.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
