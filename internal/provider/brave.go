package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"deepresearch/internal/types"

	"time"
)

// Brave queries the Brave independent web index.
type Brave struct {
	apiKey  string
	baseURL string
}

func NewBrave(apiKey string) *Brave {
	return &Brave{apiKey: apiKey, baseURL: "https://api.search.brave.com"}
}

func (b *Brave) Name() string    { return "brave" }
func (b *Brave) RPS() float64    { return 1 }
func (b *Brave) Available() bool { return b.apiKey != "" }

func (b *Brave) Search(ctx context.Context, query string, limit int) ([]types.Entity, error) {
	endpoint := fmt.Sprintf("%s/res/v1/web/search?q=%s&count=%d",
		b.baseURL, url.QueryEscape(query), clampLimit(limit, 20))

	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				PageAge     string `json:"page_age"`
			} `json:"results"`
		} `json:"web"`
	}
	err := doJSON(ctx, http.MethodGet, endpoint,
		map[string]string{"X-Subscription-Token": b.apiKey}, nil, &resp)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]types.Entity, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		out = append(out, types.Entity{
			URL:         r.URL,
			Title:       r.Title,
			Snippet:     r.Description,
			Provider:    b.Name(),
			RetrievedAt: now,
			PublishedAt: r.PageAge,
		})
	}
	return out, nil
}
