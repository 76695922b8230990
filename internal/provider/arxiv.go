package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deepresearch/internal/resilience"
	"deepresearch/internal/types"
)

// Arxiv searches the preprint archive. The API is keyless and speaks
// Atom XML.
type Arxiv struct {
	baseURL string
}

func NewArxiv() *Arxiv {
	return &Arxiv{baseURL: "https://export.arxiv.org"}
}

func (a *Arxiv) Name() string    { return "arxiv" }
func (a *Arxiv) RPS() float64    { return 0.3 } // arXiv asks for ~1 req / 3 s
func (a *Arxiv) Available() bool { return true }

type arxivFeed struct {
	Entries []struct {
		ID        string `xml:"id"`
		Title     string `xml:"title"`
		Summary   string `xml:"summary"`
		Published string `xml:"published"`
	} `xml:"entry"`
}

func (a *Arxiv) Search(ctx context.Context, query string, limit int) ([]types.Entity, error) {
	endpoint := fmt.Sprintf("%s/api/query?search_query=all:%s&max_results=%d&sortBy=relevance",
		a.baseURL, url.QueryEscape(query), clampLimit(limit, 20))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.HTTPStatusError{
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode atom feed: %w", err)
	}

	now := time.Now().UTC()
	out := make([]types.Entity, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		out = append(out, types.Entity{
			URL:         strings.TrimSpace(e.ID),
			Title:       collapseSpace(e.Title),
			Snippet:     collapseSpace(e.Summary),
			Provider:    a.Name(),
			RetrievedAt: now,
			PublishedAt: strings.TrimSpace(e.Published),
		})
	}
	return out, nil
}

// collapseSpace flattens the hard-wrapped whitespace arXiv puts inside
// titles and abstracts.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
