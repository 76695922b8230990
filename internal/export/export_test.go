package export

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/types"
)

func sampleReport() *types.Report {
	return &types.Report{
		SessionID: "sess-1",
		Query:     "effects of drip irrigation on wheat yields",
		Domain:    types.DomainAcademic,
		Summary:   "Drip irrigation raises yields in arid regions.",
		Findings: []types.Finding{
			{Statement: "Yields rose 20% in field trials", Confidence: 0.9,
				Source: "https://example.org/trial", SupportingSources: []string{"https://example.org/meta"}},
		},
		Sources: []types.SourceRef{
			{URL: "https://example.org/trial", Title: "Field trial", Type: "semanticscholar"},
		},
		Methodology: types.Methodology{
			SourcesQueried: []string{"semanticscholar", "tavily"},
			EntitiesFound:  12,
			FactsExtracted: 7,
			StopReason:     types.StopSaturationReached,
		},
		Limitations:       []string{"Single-region data only."},
		OverallConfidence: 0.82,
		GeneratedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMarkdownRendersAllSections(t *testing.T) {
	out, mediaType, err := Render(FormatMarkdown, sampleReport())
	require.NoError(t, err)
	require.Equal(t, "text/markdown; charset=utf-8", mediaType)

	md := string(out)
	require.Contains(t, md, "# Research Report: effects of drip irrigation")
	require.Contains(t, md, "Yields rose 20% in field trials")
	require.Contains(t, md, "Supporting: https://example.org/meta")
	require.Contains(t, md, "Stop reason: saturation_reached")
	require.Contains(t, md, "Single-region data only.")
	require.Contains(t, md, "[Field trial](https://example.org/trial) via semanticscholar")
}

func TestJSONRoundTrips(t *testing.T) {
	out, mediaType, err := Render(FormatJSON, sampleReport())
	require.NoError(t, err)
	require.Equal(t, "application/json", mediaType)

	var got types.Report
	require.NoError(t, json.Unmarshal(out, &got))
	require.Equal(t, "sess-1", got.SessionID)
	require.Len(t, got.Findings, 1)
}

func TestBinaryFormatsAreRejected(t *testing.T) {
	for _, f := range []Format{FormatPDF, FormatDOCX, FormatPPTX, FormatXLSX} {
		_, _, err := Render(f, sampleReport())
		require.ErrorIs(t, err, ErrUnsupportedFormat, string(f))
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" Markdown ")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, f)

	_, err = ParseFormat("csv")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestRenderNilReport(t *testing.T) {
	_, _, err := Render(FormatMarkdown, nil)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrUnsupportedFormat))
}
