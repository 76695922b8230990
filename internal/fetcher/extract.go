package fetcher

import (
	"strings"

	"golang.org/x/net/html"
)

// Elements that never contribute to main text.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"form":     true,
	"iframe":   true,
	"svg":      true,
	"button":   true,
	"select":   true,
}

// Class/id fragments that mark navigation, ads and other chrome.
var skipMarkers = []string{
	"nav", "menu", "sidebar", "footer", "header", "banner",
	"advert", "ads", "ad-", "promo", "cookie", "popup", "newsletter",
	"social", "share", "comment", "related",
}

// Elements that imply a paragraph break in the extracted text.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"article": true, "section": true, "blockquote": true, "pre": true,
}

// ExtractText parses an HTML document and returns (title, main text).
// Navigation, ads and boilerplate containers are stripped; block elements
// become paragraph breaks. Malformed HTML extracts best-effort: the parser
// never fails on real-world pages.
func ExtractText(rawHTML string) (string, string) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", ""
	}

	var title strings.Builder
	var text strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			tag := strings.ToLower(n.Data)
			if tag == "title" {
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.TextNode {
						title.WriteString(c.Data)
					}
				}
				return
			}
			if skipElements[tag] || hasSkipMarker(n) {
				return
			}
			if blockElements[tag] {
				ensureBreak(&text)
			}
		case html.TextNode:
			s := strings.TrimSpace(n.Data)
			if s != "" {
				if text.Len() > 0 && !strings.HasSuffix(text.String(), "\n") {
					text.WriteByte(' ')
				}
				text.WriteString(s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.TrimSpace(title.String()), collapseBlankLines(strings.TrimSpace(text.String()))
}

func hasSkipMarker(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" && attr.Key != "id" && attr.Key != "role" {
			continue
		}
		val := strings.ToLower(attr.Val)
		for _, marker := range skipMarkers {
			if strings.Contains(val, marker) {
				return true
			}
		}
	}
	return false
}

func ensureBreak(b *strings.Builder) {
	if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteByte('\n')
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
