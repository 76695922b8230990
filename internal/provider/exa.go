package provider

import (
	"context"
	"net/http"
	"time"

	"deepresearch/internal/types"
)

// Exa is a neural web search source, strong on semantic queries.
type Exa struct {
	apiKey  string
	baseURL string
}

func NewExa(apiKey string) *Exa {
	return &Exa{apiKey: apiKey, baseURL: "https://api.exa.ai"}
}

func (e *Exa) Name() string    { return "exa" }
func (e *Exa) RPS() float64    { return 2 }
func (e *Exa) Available() bool { return e.apiKey != "" }

func (e *Exa) Search(ctx context.Context, query string, limit int) ([]types.Entity, error) {
	var resp struct {
		Results []struct {
			Title         string  `json:"title"`
			URL           string  `json:"url"`
			PublishedDate string  `json:"publishedDate"`
			Score         float64 `json:"score"`
			Text          string  `json:"text"`
		} `json:"results"`
	}
	err := doJSON(ctx, http.MethodPost, e.baseURL+"/search",
		map[string]string{"x-api-key": e.apiKey},
		map[string]any{
			"query":      query,
			"numResults": clampLimit(limit, 25),
			"contents":   map[string]any{"text": map[string]any{"maxCharacters": 500}},
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
			Snippet:     r.Text,
			Provider:    e.Name(),
			RetrievedAt: now,
			Score:       r.Score,
			PublishedAt: r.PublishedDate,
		})
	}
	return out, nil
}
