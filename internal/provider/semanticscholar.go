package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"deepresearch/internal/types"
)

// SemanticScholar searches the academic graph. Works keyless at a lower
// rate budget; a key raises it.
type SemanticScholar struct {
	apiKey  string
	baseURL string
}

func NewSemanticScholar(apiKey string) *SemanticScholar {
	return &SemanticScholar{apiKey: apiKey, baseURL: "https://api.semanticscholar.org"}
}

func (s *SemanticScholar) Name() string { return "semanticscholar" }

func (s *SemanticScholar) RPS() float64 {
	if s.apiKey != "" {
		return 1
	}
	return 0.3 // shared unauthenticated pool
}

func (s *SemanticScholar) Available() bool { return true }

func (s *SemanticScholar) Search(ctx context.Context, query string, limit int) ([]types.Entity, error) {
	endpoint := fmt.Sprintf(
		"%s/graph/v1/paper/search?query=%s&limit=%d&fields=title,abstract,url,year,citationCount",
		s.baseURL, url.QueryEscape(query), clampLimit(limit, 20))

	headers := map[string]string{}
	if s.apiKey != "" {
		headers["x-api-key"] = s.apiKey
	}

	var resp struct {
		Data []struct {
			Title         string `json:"title"`
			Abstract      string `json:"abstract"`
			URL           string `json:"url"`
			Year          int    `json:"year"`
			CitationCount int    `json:"citationCount"`
		} `json:"data"`
	}
	if err := doJSON(ctx, http.MethodGet, endpoint, headers, nil, &resp); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]types.Entity, 0, len(resp.Data))
	for _, p := range resp.Data {
		if p.URL == "" {
			continue
		}
		e := types.Entity{
			URL:         p.URL,
			Title:       p.Title,
			Snippet:     p.Abstract,
			Provider:    s.Name(),
			RetrievedAt: now,
			Extensions:  map[string]string{"citation_count": strconv.Itoa(p.CitationCount)},
		}
		if p.Year > 0 {
			e.PublishedAt = strconv.Itoa(p.Year)
		}
		out = append(out, e)
	}
	return out, nil
}
