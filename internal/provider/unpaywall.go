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

// Unpaywall resolves open-access copies of paywalled papers. Identified
// by contact email rather than an API key.
type Unpaywall struct {
	email   string
	baseURL string
}

func NewUnpaywall(email string) *Unpaywall {
	return &Unpaywall{email: email, baseURL: "https://api.unpaywall.org"}
}

func (u *Unpaywall) Name() string    { return "unpaywall" }
func (u *Unpaywall) RPS() float64    { return 2 }
func (u *Unpaywall) Available() bool { return u.email != "" }

func (u *Unpaywall) Search(ctx context.Context, query string, limit int) ([]types.Entity, error) {
	endpoint := fmt.Sprintf("%s/v2/search?query=%s&email=%s",
		u.baseURL, url.QueryEscape(query), url.QueryEscape(u.email))

	var resp struct {
		Results []struct {
			Response struct {
				DOI           string `json:"doi"`
				Title         string `json:"title"`
				Year          int    `json:"year"`
				PublishedDate string `json:"published_date"`
				BestOALoc     *struct {
					URLForPDF string `json:"url_for_pdf"`
					URL       string `json:"url"`
				} `json:"best_oa_location"`
			} `json:"response"`
		} `json:"results"`
	}
	if err := doJSON(ctx, http.MethodGet, endpoint, nil, nil, &resp); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	max := clampLimit(limit, 20)
	out := make([]types.Entity, 0, max)
	for _, r := range resp.Results {
		if len(out) >= max {
			break
		}
		p := r.Response
		link := ""
		if p.BestOALoc != nil {
			link = p.BestOALoc.URLForPDF
			if link == "" {
				link = p.BestOALoc.URL
			}
		}
		if link == "" {
			continue // closed access, nothing to fetch
		}
		e := types.Entity{
			URL:         link,
			Title:       p.Title,
			Provider:    u.Name(),
			RetrievedAt: now,
			PublishedAt: p.PublishedDate,
			Extensions:  map[string]string{"doi": p.DOI},
		}
		if e.PublishedAt == "" && p.Year > 0 {
			e.PublishedAt = strconv.Itoa(p.Year)
		}
		out = append(out, e)
	}
	return out, nil
}
