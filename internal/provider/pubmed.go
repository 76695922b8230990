package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deepresearch/internal/types"
)

// PubMed searches medical literature through the NCBI E-utilities.
// Keyless; NCBI allows 3 req/s without an API key.
type PubMed struct {
	baseURL string
}

func NewPubMed() *PubMed {
	return &PubMed{baseURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"}
}

func (p *PubMed) Name() string    { return "pubmed" }
func (p *PubMed) RPS() float64    { return 2 }
func (p *PubMed) Available() bool { return true }

// Search is the two-step E-utilities flow: esearch for PMIDs, esummary
// for titles and dates.
func (p *PubMed) Search(ctx context.Context, query string, limit int) ([]types.Entity, error) {
	searchURL := fmt.Sprintf("%s/esearch.fcgi?db=pubmed&term=%s&retmax=%d&retmode=json&sort=relevance",
		p.baseURL, url.QueryEscape(query), clampLimit(limit, 20))

	var search struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := doJSON(ctx, http.MethodGet, searchURL, nil, nil, &search); err != nil {
		return nil, err
	}
	ids := search.ESearchResult.IDList
	if len(ids) == 0 {
		return nil, nil
	}

	summaryURL := fmt.Sprintf("%s/esummary.fcgi?db=pubmed&id=%s&retmode=json",
		p.baseURL, strings.Join(ids, ","))

	// esummary keys each record by its PMID inside "result".
	var summary struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := doJSON(ctx, http.MethodGet, summaryURL, nil, nil, &summary); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]types.Entity, 0, len(ids))
	for _, id := range ids {
		raw, ok := summary.Result[id]
		if !ok {
			continue
		}
		var rec struct {
			Title   string `json:"title"`
			PubDate string `json:"pubdate"`
			Source  string `json:"source"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		out = append(out, types.Entity{
			URL:         "https://pubmed.ncbi.nlm.nih.gov/" + id + "/",
			Title:       rec.Title,
			Provider:    p.Name(),
			RetrievedAt: now,
			PublishedAt: rec.PubDate,
			Extensions:  map[string]string{"pmid": id, "journal": rec.Source},
		})
	}
	return out, nil
}
