package provider

import (
	"context"
	"net/http"
	"time"

	"deepresearch/internal/types"
)

// Tavily is the primary general web search source.
type Tavily struct {
	apiKey  string
	baseURL string
}

func NewTavily(apiKey string) *Tavily {
	return &Tavily{apiKey: apiKey, baseURL: "https://api.tavily.com"}
}

func (t *Tavily) Name() string    { return "tavily" }
func (t *Tavily) RPS() float64    { return 1 }
func (t *Tavily) Available() bool { return t.apiKey != "" }

func (t *Tavily) Search(ctx context.Context, query string, limit int) ([]types.Entity, error) {
	var resp struct {
		Results []struct {
			Title         string  `json:"title"`
			URL           string  `json:"url"`
			Content       string  `json:"content"`
			Score         float64 `json:"score"`
			PublishedDate string  `json:"published_date"`
		} `json:"results"`
	}
	err := doJSON(ctx, http.MethodPost, t.baseURL+"/search",
		map[string]string{"Authorization": "Bearer " + t.apiKey},
		map[string]any{
			"query":       query,
			"max_results": clampLimit(limit, 20),
		}, &resp)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]types.Entity, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, types.Entity{
			URL:         r.URL,
			Title:       r.Title,
			Snippet:     r.Content,
			Provider:    t.Name(),
			RetrievedAt: now,
			Score:       r.Score,
			PublishedAt: r.PublishedDate,
		})
	}
	return out, nil
}
